package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSessionID is returned for an empty session id.
var ErrInvalidSessionID = errors.New("session id is required")

// SessionState holds the per-conversation counters the pipeline reads and
// writes, plus an opaque context map owned by conversation logic.
type SessionState struct {
	ID            string            `json:"session_id"`
	ErrorCount    int               `json:"error_count"`
	LastError     string            `json:"last_error,omitempty"`
	LastErrorTime time.Time         `json:"last_error_time,omitzero"`
	Context       map[string]string `json:"conversation_context,omitempty"`
	Created       time.Time         `json:"created"`
	Updated       time.Time         `json:"updated"`
}

// SessionStats summarizes the store for the health endpoint.
type SessionStats struct {
	Total      int `json:"total_sessions"`
	WithErrors int `json:"sessions_with_errors"`
}

// SessionStore manages per-conversation state. Every mutation is atomic
// for its record: concurrent increments from several workers never lose
// an update.
type SessionStore interface {
	// Get returns the session, or a fresh zero-count state when the id has
	// never been written.
	Get(ctx context.Context, id string) (*SessionState, error)
	// IncrementErrorCount adds one to the error counter and returns the new value.
	IncrementErrorCount(ctx context.Context, id string) (int, error)
	// UpdateContext merges fields into the conversation context.
	UpdateContext(ctx context.Context, id string, fields map[string]string) error
	// SetLastError records the most recent failure description.
	SetLastError(ctx context.Context, id, msg string, at time.Time) error
	// Sweep deletes sessions not updated since before. Returns how many went.
	Sweep(ctx context.Context, before time.Time) (int, error)
	Stats(ctx context.Context) (SessionStats, error)
	Close() error
}

// NewSessionState returns an unsaved state for id.
func NewSessionState(id string, now time.Time) *SessionState {
	return &SessionState{
		ID:      id,
		Context: map[string]string{},
		Created: now,
		Updated: now,
	}
}
