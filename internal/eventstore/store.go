package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/helix-sec/crucible/internal/telemetry"
)

// ErrConflictingEvent is returned when an event is re-delivered under a
// known event identifier with a different payload. The caller must not
// retry — the identifier is burned.
var ErrConflictingEvent = errors.New("eventstore: conflicting payload for existing event id")

// ErrNotFound is returned by lookups for an absent session or event.
var ErrNotFound = errors.New("eventstore: not found")

// AppendOutcome describes what a successful Append did.
type AppendOutcome int

const (
	// OutcomeStored means the event was new and has been stored.
	OutcomeStored AppendOutcome = iota
	// OutcomeDuplicate means the identifier was already stored with an
	// identical payload; the store is unchanged.
	OutcomeDuplicate
)

// String returns the lowercase outcome name.
func (o AppendOutcome) String() string {
	if o == OutcomeDuplicate {
		return "duplicate"
	}
	return "stored"
}

// Store is append-only, time-ordered storage of telemetry events keyed by
// a globally unique event identifier. Ingestion is at-least-once: the same
// event may arrive more than once and must be absorbed idempotently.
type Store interface {
	// Append stores the event. Re-delivery of an identical payload under a
	// known identifier is a no-op reported as OutcomeDuplicate; a payload
	// mismatch fails with ErrConflictingEvent.
	Append(ctx context.Context, event *telemetry.Event) (AppendOutcome, error)

	// QueryBySession returns the session's events ordered by timestamp
	// ascending. Zero from/to bounds mean unbounded. Out-of-order arrival
	// across producers is tolerated: ordering is by event timestamp, not
	// arrival.
	QueryBySession(ctx context.Context, sessionID string, from, to time.Time) ([]telemetry.Event, error)

	// RecentEvents returns up to limit events ordered by timestamp
	// descending, for observability consumers.
	RecentEvents(ctx context.Context, limit int) ([]telemetry.Event, error)

	// OlderThan returns events with a timestamp before cutoff, oldest
	// first, without removing them. The retention sweeper archives this
	// slice before it commits the matching delete.
	OlderThan(ctx context.Context, cutoff time.Time) ([]telemetry.Event, error)

	// DeleteOlderThan removes events with a timestamp before cutoff and
	// returns the removed events, oldest first.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]telemetry.Event, error)
}
