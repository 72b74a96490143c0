package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRecorder_RecordAndProject(t *testing.T) {
	log := NewMemoryLog()
	status := NewStatusStore()
	r := NewRecorder(log, status, zap.NewNop())

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, s := range []Status{StatusCreated, StatusQueued, StatusCompleted} {
		err := r.Record(context.Background(), Transition{
			SessionID: "xyz",
			Status:    s,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("record %s: %v", s, err)
		}
	}

	if log.Len() != 3 {
		t.Errorf("expected 3 transitions in log, got %d", log.Len())
	}
	js, err := status.JobStatus("xyz")
	if err != nil {
		t.Fatal(err)
	}
	if js.Status != StatusCompleted {
		t.Errorf("expected COMPLETED projection, got %s", js.Status)
	}
}

func TestRecorder_AssignsID(t *testing.T) {
	log := NewMemoryLog()
	r := NewRecorder(log, NewStatusStore(), zap.NewNop())

	err := r.Record(context.Background(), Transition{
		SessionID: "s",
		Status:    StatusCreated,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	all, _ := log.All(context.Background())
	if all[0].ID == "" {
		t.Error("expected an assigned transition id")
	}
}

func TestRecorder_RejectsMalformed(t *testing.T) {
	r := NewRecorder(NewMemoryLog(), NewStatusStore(), zap.NewNop())
	now := time.Now()

	cases := []struct {
		name string
		t    Transition
	}{
		{"missing session", Transition{Status: StatusCreated, Timestamp: now}},
		{"zero timestamp", Transition{SessionID: "s", Status: StatusCreated}},
		{"unknown status", Transition{SessionID: "s", Status: "EXPLODED", Timestamp: now}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Record(context.Background(), tc.t)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

type failingLog struct{ MemoryLog }

func (f *failingLog) Append(context.Context, Transition) error {
	return errors.New("disk on fire")
}

/// No retries inside the recorder: a log write failure surfaces directly
// and the projection is left untouched.
func TestRecorder_WriteFailureSurfaces(t *testing.T) {
	status := NewStatusStore()
	r := NewRecorder(&failingLog{}, status, zap.NewNop())

	err := r.Record(context.Background(), Transition{
		SessionID: "s",
		Status:    StatusCreated,
		Timestamp: time.Now(),
	})
	if err == nil {
		t.Fatal("expected an error from the failing log")
	}
	if _, err := status.JobStatus("s"); !errors.Is(err, ErrNotFound) {
		t.Error("projection must not be updated when the log write fails")
	}
}

func TestRecorder_Rebuild(t *testing.T) {
	log := NewMemoryLog()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_ = log.Append(context.Background(), transition("s", StatusCreated, base))
	_ = log.Append(context.Background(), transition("s", StatusRunning, base.Add(time.Minute)))

	status := NewStatusStore()
	r := NewRecorder(log, status, zap.NewNop())
	if err := r.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	js, err := status.JobStatus("s")
	if err != nil {
		t.Fatal(err)
	}
	if js.Status != StatusRunning {
		t.Errorf("expected RUNNING after rebuild, got %s", js.Status)
	}
}
