package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/helix-sec/crucible/internal/archive"
	"github.com/helix-sec/crucible/internal/eventstore"
	"github.com/helix-sec/crucible/internal/lifecycle"
	"github.com/helix-sec/crucible/internal/metrics"
	"github.com/helix-sec/crucible/internal/telemetry"
	"go.uber.org/zap"
)

// Config controls the retention sweeper.
type Config struct {
	// Window is how long events and transitions are kept. Rows older than
	// now minus Window are archived and deleted on each sweep.
	Window time.Duration

	// Interval is how often Run sweeps.
	Interval time.Duration

	// Prefix is the object-key prefix for archived batches.
	Prefix string
}

// DefaultConfig returns the production retention settings.
func DefaultConfig() Config {
	return Config{
		Window:   90 * 24 * time.Hour,
		Interval: time.Hour,
		Prefix:   "archive",
	}
}

// refolder is the slice of the aggregation engine the sweeper needs.
type refolder interface {
	RefoldSession(sessionID string, events []telemetry.Event)
}

// projector rebuilds the status projection after the transition log shrinks.
type projector interface {
	Rebuild(ctx context.Context) error
}

// Sweeper expires rows past the retention window. Each sweep archives the
// expiring batch first; if the archive upload fails, nothing is deleted and
// the batch is retried on the next sweep.
type Sweeper struct {
	events      eventstore.Store
	transitions lifecycle.TransitionLog
	engine      refolder
	status      projector
	sink        archive.Sink
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a Sweeper. sink may be nil, in which case expired rows are
// deleted without archiving.
func New(
	events eventstore.Store,
	transitions lifecycle.TransitionLog,
	engine refolder,
	status projector,
	sink archive.Sink,
	cfg Config,
	logger *zap.Logger,
) *Sweeper {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	return &Sweeper{
		events:      events,
		transitions: transitions,
		engine:      engine,
		status:      status,
		sink:        sink,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one retention pass: events first, then transitions.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.cfg.Window)

	if err := s.sweepEvents(ctx, cutoff); err != nil {
		return fmt.Errorf("Sweep events: %w", err)
	}
	if err := s.sweepTransitions(ctx, cutoff); err != nil {
		return fmt.Errorf("Sweep transitions: %w", err)
	}
	return nil
}

func (s *Sweeper) sweepEvents(ctx context.Context, cutoff time.Time) error {
	expiring, err := s.events.OlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(expiring) == 0 {
		return nil
	}

	if err := archiveBatch(ctx, s, "events", expiring); err != nil {
		return err
	}

	removed, err := s.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.RetentionRowsDeleted.WithLabelValues("events").Add(float64(len(removed)))

	// Feature vectors for touched sessions are refolded from what remains.
	touched := make(map[string]struct{})
	for _, e := range removed {
		touched[e.SessionID] = struct{}{}
	}
	for sessionID := range touched {
		remaining, err := s.events.QueryBySession(ctx, sessionID, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		s.engine.RefoldSession(sessionID, remaining)
	}

	s.logger.Info("events expired",
		zap.Int("rows", len(removed)),
		zap.Int("sessions", len(touched)),
		zap.Time("cutoff", cutoff))
	return nil
}

func (s *Sweeper) sweepTransitions(ctx context.Context, cutoff time.Time) error {
	expiring, err := s.transitions.OlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(expiring) == 0 {
		return nil
	}

	if err := archiveBatch(ctx, s, "transitions", expiring); err != nil {
		return err
	}

	removed, err := s.transitions.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.RetentionRowsDeleted.WithLabelValues("transitions").Add(float64(len(removed)))

	// The status projection folds the whole log, so it is rebuilt rather
	// than patched session by session.
	if err := s.status.Rebuild(ctx); err != nil {
		return err
	}

	s.logger.Info("transitions expired",
		zap.Int("rows", len(removed)),
		zap.Time("cutoff", cutoff))
	return nil
}

func archiveBatch[T any](ctx context.Context, s *Sweeper, source string, records []T) error {
	if s.sink == nil {
		return nil
	}

	data, err := archive.EncodeNDJSONGZ(records)
	if err != nil {
		return err
	}

	key := archive.BatchKey(s.cfg.Prefix, source, s.now())
	if err := s.sink.Put(ctx, key, data); err != nil {
		return err
	}
	metrics.RetentionBatchesArchived.Inc()
	return nil
}
