// Package server exposes the verification gate over a unix domain socket.
//
// The protocol is line-delimited JSON: one RPCRequest per line in, one
// RPCResponse per line out. The socket is created with 0600 permissions
// so only the owning user can reach the daemon.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stepgate/stepgate/internal/gate"
	"github.com/stepgate/stepgate/internal/risk"
)

// Options configures an IPC server.
type Options struct {
	// SocketPath is the unix socket to listen on. Required.
	SocketPath string
	// Gate is the lifecycle manager. Required.
	Gate *gate.Manager
	// Engine classifies commands. Required.
	Engine *risk.Engine
	// GateEnabled turns the whole gate off; every command is then allowed.
	GateEnabled bool
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Server serves gate RPCs on a unix socket.
type Server struct {
	socketPath string
	listener   net.Listener
	gate       *gate.Manager
	engine     *risk.Engine
	enabled    bool
	logger     *log.Logger
	startedAt  time.Time

	mu      sync.Mutex
	waiters map[string]*gate.Request

	wg sync.WaitGroup
}

// New creates the server and binds the socket. A stale socket file left
// by a dead daemon is removed first.
func New(opts Options) (*Server, error) {
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("server: socket path is required")
	}
	if opts.Gate == nil || opts.Engine == nil {
		return nil, fmt.Errorf("server: gate and engine are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	if err := os.Remove(opts.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}

	listener, err := net.Listen("unix", opts.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", opts.SocketPath, err)
	}
	if err := os.Chmod(opts.SocketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	return &Server{
		socketPath: opts.SocketPath,
		listener:   listener,
		gate:       opts.Gate,
		engine:     opts.Engine,
		enabled:    opts.GateEnabled,
		logger:     opts.Logger,
		startedAt:  time.Now(),
		waiters:    make(map[string]*gate.Request),
	}, nil
}

// Start accepts connections until the context is cancelled or Stop is
// called. It blocks.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("ipc server listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file.
func (s *Server) Stop() error {
	err := s.listener.Close()
	s.wg.Wait()
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req RPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(RPCResponse{Error: &RPCError{Code: ErrCodeParse, Message: "invalid JSON"}})
			continue
		}

		resp := s.dispatch(&req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Debug("writing response failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req *RPCRequest) RPCResponse {
	result, rpcErr := s.handle(req)
	if rpcErr != nil {
		return RPCResponse{ID: req.ID, Error: rpcErr}
	}
	return RPCResponse{ID: req.ID, Result: result}
}

func (s *Server) handle(req *RPCRequest) (any, *RPCError) {
	switch req.Method {
	case "ping":
		return map[string]any{"pong": true}, nil
	case "request":
		return s.handleRequest(req.Params)
	case "wait":
		return s.handleWait(req.Params)
	case "verify":
		return s.handleVerify(req.Params)
	case "status":
		return s.handleStatus(req.Params)
	case "cancel":
		return s.handleCancel(req.Params)
	case "pending":
		return s.handlePending()
	case "daemon_status":
		return s.handleDaemonStatus(), nil
	default:
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *Server) handleRequest(raw json.RawMessage) (any, *RPCError) {
	var params RequestParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Command == "" {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "command is required"}
	}

	verdict := s.engine.Classify(params.Command)

	result := RequestResult{}
	if verdict.Pattern != nil {
		result.PatternID = verdict.Pattern.ID
		result.Severity = string(verdict.Pattern.Severity)
		result.Description = verdict.Pattern.Description
	}

	if !s.enabled || !verdict.HighRisk {
		return result, nil
	}

	gr, err := s.gate.Create(gate.CreateParams{
		Command:    params.Command,
		SessionKey: params.SessionKey,
		Agent:      params.Agent,
		Channel:    params.Channel,
		User:       params.User,
	})
	if err != nil {
		// Unable to produce a challenge means unable to verify; the
		// caller must treat the command as denied.
		s.logger.Error("creating verification request failed", "error", err)
		return nil, &RPCError{Code: ErrCodeUnavailable, Message: "verification unavailable"}
	}

	s.mu.Lock()
	s.waiters[gr.ID] = gr
	s.mu.Unlock()

	result.Required = true
	result.RequestID = gr.ID
	result.ChallengeURL = s.gate.ChallengeURL(gr.ID)
	result.ExpiresAt = gr.ExpiresAt
	if s.gate.MockActive() {
		result.MockCode = gr.Code
	}
	return result, nil
}

// handleWait blocks until the request resolves. Each request supports a
// single wait, issued by the flow that opened it.
func (s *Server) handleWait(raw json.RawMessage) (any, *RPCError) {
	var params WaitParams
	if err := json.Unmarshal(raw, &params); err != nil || params.RequestID == "" {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "request_id is required"}
	}

	s.mu.Lock()
	gr, ok := s.waiters[params.RequestID]
	delete(s.waiters, params.RequestID)
	s.mu.Unlock()
	if !ok {
		return nil, notFoundError()
	}

	verified := s.gate.WaitForOutcome(gr)
	return WaitResult{Verified: verified, Status: string(gr.Status)}, nil
}

func (s *Server) handleVerify(raw json.RawMessage) (any, *RPCError) {
	var params VerifyParams
	if err := json.Unmarshal(raw, &params); err != nil || params.RequestID == "" {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "request_id and code are required"}
	}

	gr, err := s.gate.SubmitCode(params.RequestID, params.Code)
	switch {
	case err == nil:
		return VerifyResult{Verified: true, Status: string(gr.Status), Command: gr.Normalized}, nil
	case errors.Is(err, gate.ErrInvalidCode):
		return nil, &RPCError{Code: ErrCodeInvalid, Message: "invalid verification code"}
	case errors.Is(err, gate.ErrExpired), errors.Is(err, gate.ErrNotFound):
		return nil, notFoundError()
	default:
		return nil, &RPCError{Code: ErrCodeInternal, Message: err.Error()}
	}
}

func (s *Server) handleStatus(raw json.RawMessage) (any, *RPCError) {
	var params StatusParams
	if err := json.Unmarshal(raw, &params); err != nil || params.RequestID == "" {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "request_id is required"}
	}

	gr, ok := s.gate.Inspect(params.RequestID)
	if !ok {
		return nil, notFoundError()
	}
	return statusResult(gr), nil
}

func (s *Server) handleCancel(raw json.RawMessage) (any, *RPCError) {
	var params CancelParams
	if err := json.Unmarshal(raw, &params); err != nil || params.RequestID == "" {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "request_id is required"}
	}
	return CancelResult{Cancelled: s.gate.Cancel(params.RequestID)}, nil
}

func (s *Server) handlePending() (any, *RPCError) {
	pending := s.gate.ListPending()
	result := PendingResult{Requests: make([]StatusResult, 0, len(pending))}
	for _, gr := range pending {
		result.Requests = append(result.Requests, statusResult(gr))
	}
	return result, nil
}

func (s *Server) handleDaemonStatus() DaemonStatusResult {
	return DaemonStatusResult{
		UptimeSeconds: int(time.Since(s.startedAt).Seconds()),
		PendingCount:  s.gate.PendingCount(),
		GateEnabled:   s.enabled,
		MockActive:    s.gate.MockActive(),
	}
}

// notFoundError covers unknown, expired, and otherwise resolved requests.
func notFoundError() *RPCError {
	return &RPCError{Code: ErrCodeNotFound, Message: "request not found or expired"}
}

func statusResult(gr gate.Request) StatusResult {
	remaining := int(time.Until(gr.ExpiresAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return StatusResult{
		RequestID:        gr.ID,
		Command:          gr.Normalized,
		Status:           string(gr.Status),
		CreatedAt:        gr.CreatedAt,
		ExpiresAt:        gr.ExpiresAt,
		SecondsRemaining: remaining,
		SessionKey:       gr.SessionKey,
		Agent:            gr.Agent,
		Channel:          gr.Channel,
		User:             gr.User,
	}
}
