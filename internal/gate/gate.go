// Package gate implements the verification-request lifecycle manager.
//
// The manager owns the table of in-flight verification requests. Each
// request is resolved exactly once, by whichever of {successful verify,
// cancel, deadline} completes its transition first; every other actor
// targeting the same id then observes "not found". The gate is
// fail-closed: anything not explicitly verified before its deadline is
// rejected.
package gate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/stepgate/stepgate/internal/challenge"
	"github.com/stepgate/stepgate/internal/risk"
)

// Status is the lifecycle state of a verification request.
type Status string

const (
	// StatusPending is the initial state.
	StatusPending Status = "pending"
	// StatusVerified means the correct code was submitted before the deadline.
	StatusVerified Status = "verified"
	// StatusExpired means the deadline passed without verification.
	StatusExpired Status = "expired"
	// StatusCancelled means the request was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusExpired || s == StatusCancelled
}

// ErrNotFound is returned for unknown or already-resolved request ids.
var ErrNotFound = errors.New("verification request not found")

// ErrExpired is returned when a code is submitted after the deadline.
var ErrExpired = errors.New("verification request expired")

// ErrInvalidCode is returned on a code mismatch; the request stays pending.
var ErrInvalidCode = errors.New("invalid verification code")

// DefaultTimeout is the verification window when none is configured.
const DefaultTimeout = 300 * time.Second

// Request tracks one challenge/response cycle for a single high-risk command.
type Request struct {
	// ID is a fresh opaque identifier, never reused.
	ID string `json:"id"`
	// Command is the original, untrimmed command text being gated.
	Command string `json:"command"`
	// Normalized is the trimmed copy used for matching and display.
	Normalized string `json:"normalized_command"`
	// Code is the expected verification code, immutable after creation.
	// Comparison is case-insensitive and whitespace-trimmed.
	Code string `json:"-"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Status     Status     `json:"status"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Correlation attributes, used only for display and audit.
	SessionKey string `json:"session_key,omitempty"`
	Agent      string `json:"agent,omitempty"`
	Channel    string `json:"channel,omitempty"`
	User       string `json:"user,omitempty"`
}

// CreateParams describes a new verification request.
type CreateParams struct {
	Command    string
	SessionKey string
	Agent      string
	Channel    string
	User       string
}

// AuditSink receives a copy of each request on its terminal transition.
// Implementations must tolerate concurrent calls.
type AuditSink interface {
	RecordResolution(req Request)
}

// entry pairs a pending request with its deadline timer and the one-shot
// channel the waiter blocks on. Exactly one terminal transition sends on
// outcome; the buffer makes the send non-blocking when nobody waits yet.
type entry struct {
	req     *Request
	timer   *time.Timer
	outcome chan bool
}

// Options configures a Manager.
type Options struct {
	// Timeout is the verification window. Defaults to DefaultTimeout.
	Timeout time.Duration
	// CodeLength is the generated code length. Defaults to challenge.DefaultCodeLength.
	CodeLength int
	// Generator produces codes and challenge URLs. Required.
	Generator *challenge.Generator
	// Logger for lifecycle events. Defaults to log.Default().
	Logger *log.Logger
	// Sink optionally records terminal resolutions.
	Sink AuditSink
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Manager owns the live table of pending verification requests.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*entry

	timeout time.Duration
	codeLen int
	gen     *challenge.Generator
	logger  *log.Logger
	sink    AuditSink
	now     func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("gate: generator is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = challenge.DefaultCodeLength
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Manager{
		pending: make(map[string]*entry),
		timeout: opts.Timeout,
		codeLen: opts.CodeLength,
		gen:     opts.Generator,
		logger:  opts.Logger,
		sink:    opts.Sink,
		now:     opts.Clock,
	}, nil
}

// Create allocates a new pending request with a fresh id and code.
// No deadline timer is registered yet; that happens when the wait begins,
// so a request can be created and inspected before anyone waits on it.
func (m *Manager) Create(p CreateParams) (*Request, error) {
	code, err := m.gen.Code(m.codeLen)
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}

	normalized, _ := risk.NormalizeCommand(p.Command)
	now := m.now()

	req := &Request{
		ID:         uuid.New().String(),
		Command:    p.Command,
		Normalized: normalized,
		Code:       code,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.timeout),
		Status:     StatusPending,
		SessionKey: p.SessionKey,
		Agent:      p.Agent,
		Channel:    p.Channel,
		User:       p.User,
	}

	m.mu.Lock()
	m.pending[req.ID] = &entry{
		req:     req,
		outcome: make(chan bool, 1),
	}
	m.mu.Unlock()

	m.logger.Info("verification request created",
		"request_id", req.ID,
		"command", truncate(req.Normalized, 80),
		"expires_at", req.ExpiresAt)

	return req, nil
}

// ChallengeURL builds the challenge URL for a request id.
func (m *Manager) ChallengeURL(requestID string) string {
	return m.gen.URL(requestID)
}

// MockActive reports whether the underlying generator is in mock mode.
func (m *Manager) MockActive() bool {
	return m.gen.MockActive()
}

// WaitForOutcome blocks until the request resolves and returns true only
// for the verified outcome. A request whose deadline has already passed
// settles as expired immediately, without registering a timer.
//
// Each request has exactly one waiter: the flow that created it.
func (m *Manager) WaitForOutcome(req *Request) bool {
	if req == nil {
		return false
	}

	m.mu.Lock()
	e, ok := m.pending[req.ID]
	if !ok {
		// Already resolved; the terminal state on the value decides.
		status := req.Status
		m.mu.Unlock()
		return status == StatusVerified
	}

	now := m.now()
	if !e.req.ExpiresAt.After(now) {
		m.resolveLocked(e, StatusExpired, false)
		m.mu.Unlock()
		m.afterResolve(e.req, "deadline already passed")
		return <-e.outcome
	}

	if e.timer == nil {
		id := e.req.ID
		e.timer = time.AfterFunc(e.req.ExpiresAt.Sub(now), func() {
			m.expire(id)
		})
	}
	m.mu.Unlock()

	return <-e.outcome
}

// SubmitCode attempts the verified transition for a pending request.
//
// Unknown or already-resolved ids fail with ErrNotFound. A request past
// its deadline is expired by this call itself and fails with ErrExpired.
// A mismatching code fails with ErrInvalidCode and leaves the request
// pending; the caller may retry until the deadline. A match resolves the
// request as verified and returns it.
func (m *Manager) SubmitCode(id, code string) (*Request, error) {
	m.mu.Lock()
	e, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	if !e.req.ExpiresAt.After(m.now()) {
		// A verify attempt that discovers a missed deadline behaves
		// exactly like the timer firing.
		m.resolveLocked(e, StatusExpired, false)
		m.mu.Unlock()
		m.afterResolve(e.req, "deadline discovered on submit")
		return nil, ErrExpired
	}

	if !codesMatch(code, e.req.Code) {
		m.mu.Unlock()
		return nil, ErrInvalidCode
	}

	m.resolveLocked(e, StatusVerified, true)
	m.mu.Unlock()
	m.afterResolve(e.req, "code accepted")
	return e.req, nil
}

// Cancel resolves a pending request as cancelled and returns true.
// Unknown or already-resolved ids are a no-op returning false.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.resolveLocked(e, StatusCancelled, false)
	m.mu.Unlock()
	m.afterResolve(e.req, "cancelled")
	return true
}

// Inspect returns a copy of a pending request. Resolved requests are
// invisible: the manager keeps no history of terminal states.
func (m *Manager) Inspect(id string) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pending[id]
	if !ok {
		return Request{}, false
	}
	return *e.req, true
}

// PendingCount returns the number of in-flight requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ListPending returns copies of all pending requests, oldest first.
func (m *Manager) ListPending() []Request {
	m.mu.Lock()
	out := make([]Request, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, *e.req)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// expire is the deadline timer callback.
func (m *Manager) expire(id string) {
	m.mu.Lock()
	e, ok := m.pending[id]
	if !ok {
		// Another trigger won the race; nothing to do.
		m.mu.Unlock()
		return
	}
	m.resolveLocked(e, StatusExpired, false)
	m.mu.Unlock()
	m.afterResolve(e.req, "deadline reached")
}

// resolveLocked performs the single terminal transition: removes the
// table entry, disarms the timer, marks the request, and wakes the waiter.
// The caller must hold m.mu and have verified the entry is still pending.
func (m *Manager) resolveLocked(e *entry, status Status, outcome bool) {
	delete(m.pending, e.req.ID)
	if e.timer != nil {
		e.timer.Stop()
	}
	now := m.now()
	e.req.Status = status
	e.req.ResolvedAt = &now
	e.outcome <- outcome
}

// afterResolve logs and records a terminal transition. Called without m.mu;
// the request is terminal and no longer mutated.
func (m *Manager) afterResolve(req *Request, reason string) {
	m.logger.Info("verification request resolved",
		"request_id", req.ID,
		"status", req.Status,
		"reason", reason)
	if m.sink != nil {
		m.sink.RecordResolution(*req)
	}
}

// codesMatch compares codes case-insensitively after trimming whitespace.
func codesMatch(submitted, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(expected))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
