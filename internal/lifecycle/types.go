package lifecycle

import (
	"errors"
	"time"
)

// Status is a named point in an analysis job's lifecycle.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusQueued   Status = "QUEUED"
	StatusSpawning Status = "SPAWNING"
	StatusRunning  Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed   Status = "FAILED"

	// Post-scoring statuses, reached from COMPLETED by the scheduler.
	StatusScored      Status = "SCORED"
	StatusScoreFailed Status = "SCORE_FAILED"
)

// Valid reports whether s is a known status value. The recorder accepts
// any valid status at any time; transition ordering is the caller's
// responsibility, and the projection's latest-wins merge absorbs reordered
// or re-delivered records.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusQueued, StatusSpawning, StatusRunning,
		StatusCompleted, StatusFailed, StatusScored, StatusScoreFailed:
		return true
	}
	return false
}

// Transition is an immutable fact: a session moved to a status at a
// timestamp. Append-only; never mutated or deleted outside retention.
type Transition struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// JobStatus is the current-status projection for one session: the
// transition with the greatest timestamp.
type JobStatus struct {
	SessionID   string    `json:"session_id"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
	Details     string    `json:"details,omitempty"`
}

// ErrNotFound is returned when no transitions have been recorded for a
// session.
var ErrNotFound = errors.New("lifecycle: session not found")

// ErrInvalidTransition is returned for a transition with an unknown status
// value, a missing session id, or a zero timestamp.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")
