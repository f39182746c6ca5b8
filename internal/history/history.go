// Package history persists terminal verification outcomes to SQLite.
//
// The gate itself keeps no record of resolved requests; status lookups on
// them report not-found by design. History is the separate read model for
// auditing what was verified, cancelled, or allowed to expire.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/stepgate/stepgate/internal/gate"
)

// ErrNotFound is returned when a resolution is not recorded.
var ErrNotFound = errors.New("resolution not found")

// Resolution is one recorded terminal outcome.
type Resolution struct {
	RequestID  string      `json:"request_id"`
	Command    string      `json:"command"`
	Normalized string      `json:"normalized_command"`
	Status     gate.Status `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	ResolvedAt time.Time   `json:"resolved_at"`
	SessionKey string      `json:"session_key,omitempty"`
	Agent      string      `json:"agent,omitempty"`
	Channel    string      `json:"channel,omitempty"`
	User       string      `json:"user,omitempty"`
}

// Store is a SQLite-backed resolution log.
type Store struct {
	db *sql.DB
}

// Open opens (creating parent directories if needed) and migrates the store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS resolutions (
			request_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			normalized_command TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			resolved_at TEXT NOT NULL,
			session_key TEXT NOT NULL DEFAULT '',
			agent TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_resolutions_resolved_at
			ON resolutions(resolved_at);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records a terminal resolution. The request must be terminal.
func (s *Store) Insert(req gate.Request) error {
	if !req.Status.Terminal() {
		return fmt.Errorf("history: request %s is not terminal (status %s)", req.ID, req.Status)
	}
	resolvedAt := time.Now().UTC()
	if req.ResolvedAt != nil {
		resolvedAt = req.ResolvedAt.UTC()
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO resolutions
			(request_id, command, normalized_command, status, created_at, expires_at, resolved_at,
			 session_key, agent, channel, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.Command, req.Normalized, string(req.Status),
		req.CreatedAt.UTC().Format(time.RFC3339Nano),
		req.ExpiresAt.UTC().Format(time.RFC3339Nano),
		resolvedAt.Format(time.RFC3339Nano),
		req.SessionKey, req.Agent, req.Channel, req.User)
	if err != nil {
		return fmt.Errorf("inserting resolution: %w", err)
	}
	return nil
}

// Get retrieves one recorded resolution by request id.
func (s *Store) Get(requestID string) (*Resolution, error) {
	row := s.db.QueryRow(`
		SELECT request_id, command, normalized_command, status, created_at, expires_at, resolved_at,
		       session_key, agent, channel, user_id
		FROM resolutions WHERE request_id = ?
	`, requestID)

	res, err := scanResolution(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// ListRecent returns up to limit resolutions, newest first.
func (s *Store) ListRecent(limit int) ([]*Resolution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT request_id, command, normalized_command, status, created_at, expires_at, resolved_at,
		       session_key, agent, channel, user_id
		FROM resolutions
		ORDER BY resolved_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying resolutions: %w", err)
	}
	defer rows.Close()

	var out []*Resolution
	for rows.Next() {
		res, err := scanResolution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resolutions: %w", err)
	}
	return out, nil
}

// Prune deletes resolutions older than the retention window and returns
// the number removed.
func (s *Store) Prune(retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	result, err := s.db.Exec(`DELETE FROM resolutions WHERE resolved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning resolutions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

func scanResolution(scan func(...any) error) (*Resolution, error) {
	res := &Resolution{}
	var status, createdAt, expiresAt, resolvedAt string

	if err := scan(&res.RequestID, &res.Command, &res.Normalized, &status,
		&createdAt, &expiresAt, &resolvedAt,
		&res.SessionKey, &res.Agent, &res.Channel, &res.User); err != nil {
		return nil, err
	}

	res.Status = gate.Status(status)
	var err error
	if res.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if res.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if res.ResolvedAt, err = time.Parse(time.RFC3339Nano, resolvedAt); err != nil {
		return nil, fmt.Errorf("parsing resolved_at: %w", err)
	}
	return res, nil
}

// sink adapts Store to gate.AuditSink. Insert failures are logged, never
// propagated: audit must not block or fail a resolution.
type sink struct {
	store  *Store
	logger *log.Logger
}

// Sink returns an AuditSink that records resolutions into the store.
func (s *Store) Sink(logger *log.Logger) gate.AuditSink {
	if logger == nil {
		logger = log.Default()
	}
	return &sink{store: s, logger: logger}
}

func (s *sink) RecordResolution(req gate.Request) {
	if err := s.store.Insert(req); err != nil {
		s.logger.Error("recording resolution failed",
			"request_id", req.ID,
			"error", err)
	}
}
