package report

import (
	"errors"
	"testing"
	"time"
)

func TestLatestByTimestamp(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Arrival order deliberately disagrees with timestamp order.
	s.Append(Report{SessionID: "abc", Score: 85, Verdict: VerdictMalicious, Timestamp: base.Add(time.Hour)})
	s.Append(Report{SessionID: "abc", Score: 10, Verdict: VerdictBenign, Timestamp: base})

	latest, err := s.Latest("abc")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Score != 85 || latest.Verdict != VerdictMalicious {
		t.Errorf("latest = %+v, want the t+1h malicious report", latest)
	}

	if got := len(s.All("abc")); got != 2 {
		t.Errorf("All = %d reports, want 2", got)
	}
}

func TestLatestMissingSession(t *testing.T) {
	s := NewStore()
	if _, err := s.Latest("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
