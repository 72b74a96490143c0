package lifecycle

import (
	"errors"
	"testing"
	"time"
)

func transition(session string, status Status, ts time.Time) Transition {
	return Transition{
		ID:        session + "-" + string(status),
		SessionID: session,
		Status:    status,
		Timestamp: ts,
	}
}

// The merge must be order-independent: any permutation of the same
// transitions converges on the one with the greatest timestamp.
func TestMerge_PermutationIndependent(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created := transition("s", StatusCreated, base)
	queued := transition("s", StatusQueued, base.Add(1*time.Minute))
	running := transition("s", StatusRunning, base.Add(2*time.Minute))

	permutations := [][]Transition{
		{created, running, queued},
		{running, created, queued},
		{queued, created, running},
		{created, queued, running},
	}

	for i, perm := range permutations {
		s := NewStatusStore()
		for _, tr := range perm {
			s.Merge(tr)
		}
		js, err := s.JobStatus("s")
		if err != nil {
			t.Fatalf("permutation %d: %v", i, err)
		}
		if js.Status != StatusRunning {
			t.Errorf("permutation %d: expected RUNNING, got %s", i, js.Status)
		}
		if !js.LastUpdated.Equal(running.Timestamp) {
			t.Errorf("permutation %d: expected timestamp %v, got %v", i, running.Timestamp, js.LastUpdated)
		}
	}
}

func TestMerge_RedeliveryIsIdempotent(t *testing.T) {
	s := NewStatusStore()
	tr := transition("s", StatusCompleted, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC))
	s.Merge(tr)
	s.Merge(tr)
	s.Merge(tr)

	js, err := s.JobStatus("s")
	if err != nil {
		t.Fatal(err)
	}
	if js.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", js.Status)
	}
}

// Equal timestamps: the last applied record wins. Documented tie break.
func TestMerge_TieBreakLastApplied(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStatusStore()
	s.Merge(transition("s", StatusCompleted, ts))
	s.Merge(transition("s", StatusFailed, ts))

	js, _ := s.JobStatus("s")
	if js.Status != StatusFailed {
		t.Errorf("expected last-applied FAILED to win the tie, got %s", js.Status)
	}
}

func TestMerge_OlderTransitionAbsorbed(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStatusStore()
	s.Merge(transition("s", StatusScored, base.Add(time.Hour)))
	s.Merge(transition("s", StatusCompleted, base)) // late arrival

	js, _ := s.JobStatus("s")
	if js.Status != StatusScored {
		t.Errorf("late COMPLETED must not override SCORED, got %s", js.Status)
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	s := NewStatusStore()
	if _, err := s.JobStatus("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionsWithStatus_OldestFirstWithLimit(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStatusStore()
	s.Merge(transition("c", StatusCompleted, base.Add(3*time.Minute)))
	s.Merge(transition("a", StatusCompleted, base.Add(1*time.Minute)))
	s.Merge(transition("b", StatusCompleted, base.Add(2*time.Minute)))
	s.Merge(transition("d", StatusRunning, base))

	got := s.SessionsWithStatus(StatusCompleted, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
	if got[0].SessionID != "a" || got[1].SessionID != "b" {
		t.Errorf("expected oldest-first (a, b), got (%s, %s)", got[0].SessionID, got[1].SessionID)
	}
}

func TestReset_RebuildsFromLog(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStatusStore()
	s.Merge(transition("stale", StatusRunning, base))

	s.Reset([]Transition{
		transition("s", StatusCreated, base),
		transition("s", StatusCompleted, base.Add(time.Minute)),
	})

	if _, err := s.JobStatus("stale"); !errors.Is(err, ErrNotFound) {
		t.Error("expected stale session dropped by reset")
	}
	js, _ := s.JobStatus("s")
	if js.Status != StatusCompleted {
		t.Errorf("expected COMPLETED after reset, got %s", js.Status)
	}
}
