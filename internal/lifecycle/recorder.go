package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder appends immutable lifecycle transitions to the log and feeds
// the StatusStore projection. It validates only that the record is
// well-formed — any valid status at any timestamp is accepted, because
// transitions arrive from loosely coordinated producers (job spawners,
// sandbox workers, the scoring scheduler) with no single serializing
// writer. Meaningful ordering is the caller's responsibility.
type Recorder struct {
	log    TransitionLog
	status *StatusStore
	logger *zap.Logger
}

// NewRecorder creates a Recorder over the given log and projection.
func NewRecorder(log TransitionLog, status *StatusStore, logger *zap.Logger) *Recorder {
	return &Recorder{log: log, status: status, logger: logger}
}

// Record appends the transition and merges it into the projection. An
// empty ID is assigned. Write failures surface directly; the Recorder
// performs no retries.
func (r *Recorder) Record(ctx context.Context, t Transition) error {
	if t.SessionID == "" || t.Timestamp.IsZero() || !t.Status.Valid() {
		return fmt.Errorf("%w: session=%q status=%q", ErrInvalidTransition, t.SessionID, t.Status)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	if err := r.log.Append(ctx, t); err != nil {
		return fmt.Errorf("Record session=%s: %w", t.SessionID, err)
	}
	r.status.Merge(t)

	r.logger.Debug("lifecycle transition recorded",
		zap.String("session_id", t.SessionID),
		zap.String("status", string(t.Status)),
		zap.Time("timestamp", t.Timestamp),
	)
	return nil
}

// Rebuild refolds the whole transition log into the projection. Called at
// startup when the log outlives the process (Postgres-backed).
func (r *Recorder) Rebuild(ctx context.Context) error {
	transitions, err := r.log.All(ctx)
	if err != nil {
		return fmt.Errorf("Rebuild: %w", err)
	}
	r.status.Reset(transitions)
	r.logger.Info("status projection rebuilt",
		zap.Int("transitions", len(transitions)),
	)
	return nil
}

// Status returns the projection the recorder feeds.
func (r *Recorder) Status() *StatusStore {
	return r.status
}
