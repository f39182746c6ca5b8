package server

import (
	"encoding/json"
	"time"
)

// RPCRequest is one line-delimited JSON request on the IPC socket.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int             `json:"id"`
}

// RPCResponse is the reply to one RPCRequest, matched by ID.
type RPCResponse struct {
	ID     int       `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// RPCError carries a protocol or domain error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Protocol error codes, JSON-RPC style.
const (
	ErrCodeParse          = -32700
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// Domain error codes, HTTP style.
const (
	// ErrCodeInvalid means the request was understood but rejected, for
	// example a wrong verification code.
	ErrCodeInvalid = 400
	// ErrCodeNotFound covers unknown ids and requests that already
	// resolved, including expiry. The two are indistinguishable on
	// purpose: a resolved request is gone.
	ErrCodeNotFound = 404
	// ErrCodeUnavailable means the verification backend cannot serve the
	// request. Callers must fail closed.
	ErrCodeUnavailable = 503
)

// RequestParams asks the gate to classify a command and, when high-risk,
// open a verification request.
type RequestParams struct {
	Command    string `json:"command"`
	SessionKey string `json:"session_key,omitempty"`
	Agent      string `json:"agent,omitempty"`
	Channel    string `json:"channel,omitempty"`
	User       string `json:"user,omitempty"`
}

// RequestResult is the answer to a request call.
type RequestResult struct {
	// Required is false when the command is not high-risk or the gate is
	// disabled; the caller may run it immediately.
	Required bool `json:"required"`

	PatternID   string `json:"pattern_id,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description,omitempty"`

	RequestID    string    `json:"request_id,omitempty"`
	ChallengeURL string    `json:"challenge_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	// MockCode is populated only in mock mode. Real codes never leave
	// the daemon through this channel.
	MockCode string `json:"mock_code,omitempty"`
}

// WaitParams identifies the request to block on.
type WaitParams struct {
	RequestID string `json:"request_id"`
}

// WaitResult reports the terminal outcome of a request.
type WaitResult struct {
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
}

// VerifyParams carries a code submission.
type VerifyParams struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
}

// VerifyResult confirms a successful verification.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
	Command  string `json:"command"`
}

// StatusParams identifies the request to inspect.
type StatusParams struct {
	RequestID string `json:"request_id"`
}

// StatusResult describes one pending request.
type StatusResult struct {
	RequestID        string    `json:"request_id"`
	Command          string    `json:"command"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	SecondsRemaining int       `json:"seconds_remaining"`
	SessionKey       string    `json:"session_key,omitempty"`
	Agent            string    `json:"agent,omitempty"`
	Channel          string    `json:"channel,omitempty"`
	User             string    `json:"user,omitempty"`
}

// CancelParams identifies the request to cancel.
type CancelParams struct {
	RequestID string `json:"request_id"`
}

// CancelResult reports whether this call performed the cancellation.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}

// PendingResult lists in-flight requests, oldest first.
type PendingResult struct {
	Requests []StatusResult `json:"requests"`
}

// DaemonStatusResult describes the daemon itself.
type DaemonStatusResult struct {
	UptimeSeconds int  `json:"uptime_seconds"`
	PendingCount  int  `json:"pending_count"`
	GateEnabled   bool `json:"gate_enabled"`
	MockActive    bool `json:"mock_active"`
}
