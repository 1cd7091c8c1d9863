// Package session defines the durable record of analysis sessions and of the
// operations (runs) issued within them.
//
// A Session is one conversation thread. A run is one logical analyze
// operation: it starts with a message, may pause for human input any number
// of times, and ends completed, failed or canceled. Every resume of a paused
// operation belongs to the same run.
package session

import (
	"context"
	"errors"
	"time"
)

type (
	// Session captures session lifecycle state.
	//
	// Contract:
	// - Session IDs are opaque; they are supplied by the caller's session
	//   provider and never interpreted.
	// - Ended sessions are terminal: new runs must not start under them.
	Session struct {
		// ID is the opaque session identifier.
		ID string
		// Status is the current lifecycle state.
		Status SessionStatus
		// CreatedAt records when the session was created.
		CreatedAt time.Time
		// EndedAt is set when the session is ended.
		EndedAt *time.Time
	}

	// RunMeta captures the persistent metadata of one analyze operation.
	RunMeta struct {
		// RunID identifies the logical operation across resume cycles.
		RunID string
		// SessionID is the session the run belongs to.
		SessionID string
		// Status is the current lifecycle state.
		Status RunStatus
		// Message is the message that started the run.
		Message string
		// Subtype is the interaction subtype of the latest pause, if any.
		Subtype string
		// Resumes counts how many times the run was resumed.
		Resumes int
		// CodebookID is the server identifier of the completed analysis.
		CodebookID string
		// Error holds the failure message of failed runs.
		Error string
		// StartedAt records when the run began. It is immutable.
		StartedAt time.Time
		// UpdatedAt records when the metadata was last written.
		UpdatedAt time.Time
		// Labels stores caller-provided labels.
		Labels map[string]string
	}

	// Store persists session lifecycle and run metadata.
	Store interface {
		// CreateSession creates (or returns) an active session.
		//
		// Contract:
		// - Idempotent for active sessions: returns the existing session.
		// - Returns ErrSessionEnded when the session exists but is terminal.
		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
		// LoadSession returns ErrSessionNotFound when the session does not exist.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// EndSession ends a session. Ending an ended session returns it unchanged.
		EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

		// UpsertRun inserts or updates run metadata.
		UpsertRun(ctx context.Context, run RunMeta) error
		// LoadRun returns ErrRunNotFound when the run does not exist.
		LoadRun(ctx context.Context, runID string) (RunMeta, error)
		// ListRunsBySession lists the runs of a session ordered by start time.
		// When statuses is non-empty only matching runs are returned.
		ListRunsBySession(ctx context.Context, sessionID string, statuses []RunStatus) ([]RunMeta, error)
	}

	// SessionStatus represents the lifecycle state of a session.
	SessionStatus string

	// RunStatus represents the lifecycle state of a run.
	RunStatus string
)

const (
	// StatusActive indicates the session accepts new runs.
	StatusActive SessionStatus = "active"
	// StatusEnded indicates the session was deleted or replaced.
	StatusEnded SessionStatus = "ended"

	// RunStatusRunning indicates a stream is being consumed.
	RunStatusRunning RunStatus = "running"
	// RunStatusPaused indicates the run waits for human input.
	RunStatusPaused RunStatus = "paused"
	// RunStatusCompleted indicates the run finished successfully.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates a transport failure or a server error event.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCanceled indicates the run was stopped by the user.
	RunStatusCanceled RunStatus = "canceled"
)

var (
	// ErrSessionNotFound indicates a session does not exist in the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded indicates a session exists but is ended.
	ErrSessionEnded = errors.New("session ended")
	// ErrRunNotFound indicates run metadata does not exist in the store.
	ErrRunNotFound = errors.New("run not found")
)

// Terminal reports whether the run status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// Validate checks the fields every store requires.
func (r RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run id is required")
	}
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	if r.Status == "" {
		return errors.New("status is required")
	}
	return nil
}
