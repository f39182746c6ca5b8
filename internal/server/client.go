package server

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// ErrUnavailable means the daemon could not be reached. Callers gating a
// command on verification must treat this as a denial.
var ErrUnavailable = errors.New("stepgate daemon unavailable")

// CallError is a structured error returned by the daemon.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is the daemon's not-found-or-expired error.
func IsNotFound(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Code == ErrCodeNotFound
}

// IsInvalidCode reports whether err is a code rejection. The request is
// still pending and the caller may retry.
func IsInvalidCode(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Code == ErrCodeInvalid
}

// DefaultSocketPath returns the per-project socket path, derived from the
// working directory so daemons for different projects never collide.
func DefaultSocketPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	hash := sha256.Sum256([]byte(cwd))
	return filepath.Join(os.TempDir(), fmt.Sprintf("stepgate-%s.sock", hex.EncodeToString(hash[:])[:12]))
}

// Client talks to the daemon over its unix socket. The zero value is not
// usable; construct with NewClient.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSocketPath overrides the per-project default socket.
func WithSocketPath(path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.socketPath = path
		}
	}
}

// NewClient creates a daemon client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		socketPath:  DefaultSocketPath(),
		dialTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Available reports whether the daemon answers a ping.
func (c *Client) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var result map[string]any
	if err := c.Call(ctx, "ping", nil, &result); err != nil {
		return false
	}
	pong, _ := result["pong"].(bool)
	return pong
}

// wireResponse keeps Result raw so callers can decode into typed structs.
type wireResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Call performs one RPC on a fresh connection. A context deadline bounds
// the whole exchange; without one the call can block indefinitely, which
// is what the wait method wants.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := RPCRequest{Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}

	var resp wireResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return &CallError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Request asks the daemon to classify a command and open a verification
// request when required.
func (c *Client) Request(ctx context.Context, params RequestParams) (*RequestResult, error) {
	var result RequestResult
	if err := c.Call(ctx, "request", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Wait blocks until the request resolves. The context should not carry a
// deadline shorter than the verification window.
func (c *Client) Wait(ctx context.Context, requestID string) (*WaitResult, error) {
	var result WaitResult
	if err := c.Call(ctx, "wait", WaitParams{RequestID: requestID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Verify submits a code for a pending request.
func (c *Client) Verify(ctx context.Context, requestID, code string) (*VerifyResult, error) {
	var result VerifyResult
	if err := c.Call(ctx, "verify", VerifyParams{RequestID: requestID, Code: code}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status inspects one pending request.
func (c *Client) Status(ctx context.Context, requestID string) (*StatusResult, error) {
	var result StatusResult
	if err := c.Call(ctx, "status", StatusParams{RequestID: requestID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel cancels one pending request.
func (c *Client) Cancel(ctx context.Context, requestID string) (*CancelResult, error) {
	var result CancelResult
	if err := c.Call(ctx, "cancel", CancelParams{RequestID: requestID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Pending lists in-flight requests, oldest first.
func (c *Client) Pending(ctx context.Context) (*PendingResult, error) {
	var result PendingResult
	if err := c.Call(ctx, "pending", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DaemonStatus reports daemon health and gate configuration.
func (c *Client) DaemonStatus(ctx context.Context) (*DaemonStatusResult, error) {
	var result DaemonStatusResult
	if err := c.Call(ctx, "daemon_status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
