package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/helix-sec/crucible/internal/lifecycle"
	"github.com/helix-sec/crucible/internal/metrics"
	"github.com/helix-sec/crucible/internal/report"
	"github.com/helix-sec/crucible/internal/scorer"
	"go.uber.org/zap"
)

// Config holds the scheduler's tunables.
type Config struct {
	Interval     time.Duration // cycle cadence (default 1m)
	BatchSize    int           // max sessions discovered per cycle (default 10)
	MaxRetries   int           // scorer attempts per session per cycle (default 3)
	RetryBackoff time.Duration // base backoff between attempts (default 500ms)
	CycleTimeout time.Duration // overall deadline for one cycle (default 45s)
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Minute,
		BatchSize:    10,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
		CycleTimeout: 45 * time.Second,
	}
}

type outcome int

const (
	outcomeScored outcome = iota
	outcomeScoreFailed
	outcomeAbandoned
	outcomeSkipped
)

type sessionResult struct {
	sessionID string
	outcome   outcome
	err       error
}

// Scheduler polls the status projection for sessions whose job has
// completed, triggers the external scorer for each, and records the
// outcome as a new lifecycle transition. Retry across cycles is implicit:
// a session that failed to produce any transition stays COMPLETED and is
// re-discovered on the next cycle.
type Scheduler struct {
	status   *lifecycle.StatusStore
	recorder *lifecycle.Recorder
	client   scorer.Client
	reports  *report.Store
	lease    Lease
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Scheduler. Zero config fields fall back to the defaults.
func New(status *lifecycle.StatusStore, recorder *lifecycle.Recorder, client scorer.Client,
	reports *report.Store, lease Lease, cfg Config, logger *zap.Logger) *Scheduler {

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = def.CycleTimeout
	}

	return &Scheduler{
		status:   status,
		recorder: recorder,
		client:   client,
		reports:  reports,
		lease:    lease,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes cycles on the configured cadence until ctx is cancelled.
// No lock is held across cycles; overlapping cycles (scheduler skew,
// multiple instances) are tolerated by the latest-wins status merge and
// the scoring lease, not prevented.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scoring scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("max_retries", s.cfg.MaxRetries),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scoring scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle discovers up to BatchSize COMPLETED sessions and scores them
// concurrently. Sessions are independent units of work: one failure never
// aborts the rest, and a session whose call has not finished by the cycle
// deadline is abandoned without a transition.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	batch := s.status.SessionsWithStatus(lifecycle.StatusCompleted, s.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	s.logger.Info("scoring cycle discovered sessions", zap.Int("count", len(batch)))

	ch := make(chan sessionResult, len(batch))
	for _, js := range batch {
		go func(sessionID string) {
			ch <- s.scoreSession(ctx, sessionID)
		}(js.SessionID)
	}

	for range batch {
		res := <-ch
		switch res.outcome {
		case outcomeScored:
			metrics.ScoringOutcomes.WithLabelValues("scored").Inc()
		case outcomeScoreFailed:
			metrics.ScoringOutcomes.WithLabelValues("score_failed").Inc()
			s.logger.Warn("session scoring exhausted retries",
				zap.String("session_id", res.sessionID),
				zap.Error(res.err),
			)
		case outcomeAbandoned:
			metrics.ScoringOutcomes.WithLabelValues("abandoned").Inc()
			s.logger.Warn("session scoring abandoned at cycle deadline",
				zap.String("session_id", res.sessionID),
			)
		case outcomeSkipped:
			metrics.ScoringOutcomes.WithLabelValues("skipped").Inc()
		}
		if res.err != nil && res.outcome == outcomeScored {
			// Scoring succeeded but the follow-up transition write failed;
			// the session stays COMPLETED and the next cycle re-scores it.
			s.logger.Error("failed to record scoring outcome",
				zap.String("session_id", res.sessionID),
				zap.Error(res.err),
			)
		}
	}

	metrics.SchedulerCycleDuration.Observe(s.now().Sub(start).Seconds())
}

// scoreSession drives one session through at most MaxRetries scorer
// attempts, then records SCORED or SCORE_FAILED. The session id is the
// scorer's correlation key, so a duplicate trigger from an overlapping
// cycle is tolerated; the lease merely suppresses most of them.
func (s *Scheduler) scoreSession(ctx context.Context, sessionID string) sessionResult {
	acquired, err := s.lease.Acquire(ctx, sessionID)
	if err != nil {
		s.logger.Warn("lease acquire failed, proceeding without it",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else if !acquired {
		return sessionResult{sessionID: sessionID, outcome: outcomeSkipped}
	} else {
		defer s.lease.Release(context.WithoutCancel(ctx), sessionID)
	}

	var lastErr error
	backoff := s.cfg.RetryBackoff
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		metrics.ScoringAttempts.Inc()

		rep, err := s.client.Score(ctx, sessionID)
		if err == nil {
			if rep != nil {
				s.reports.Append(*rep)
			}
			recErr := s.recorder.Record(ctx, lifecycle.Transition{
				SessionID: sessionID,
				Status:    lifecycle.StatusScored,
				Timestamp: s.now(),
				Details:   "scored by scheduler",
			})
			return sessionResult{sessionID: sessionID, outcome: outcomeScored, err: recErr}
		}
		lastErr = err

		if ctx.Err() != nil {
			// Deadline hit: abandon with no transition. The session stays
			// COMPLETED and is re-discovered next cycle.
			return sessionResult{sessionID: sessionID, outcome: outcomeAbandoned, err: lastErr}
		}
		s.logger.Debug("scorer attempt failed",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < s.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return sessionResult{sessionID: sessionID, outcome: outcomeAbandoned, err: lastErr}
			case <-time.After(backoff):
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
		}
	}

	recErr := s.recorder.Record(ctx, lifecycle.Transition{
		SessionID: sessionID,
		Status:    lifecycle.StatusScoreFailed,
		Timestamp: s.now(),
		Details:   "scorer unavailable after retries: " + errString(lastErr),
	})
	if recErr != nil {
		lastErr = errors.Join(lastErr, recErr)
	}
	return sessionResult{sessionID: sessionID, outcome: outcomeScoreFailed, err: lastErr}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
