package retention

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/helix-sec/crucible/internal/aggregate"
	"github.com/helix-sec/crucible/internal/archive"
	"github.com/helix-sec/crucible/internal/eventstore"
	"github.com/helix-sec/crucible/internal/lifecycle"
	"github.com/helix-sec/crucible/internal/telemetry"
	"go.uber.org/zap"
)

type fakeSink struct {
	keys    []string
	payload [][]byte
	err     error
}

func (f *fakeSink) Put(_ context.Context, key string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.payload = append(f.payload, body)
	return nil
}

// sinkOrNil avoids handing the sweeper a non-nil interface wrapping a nil
// pointer.
func sinkOrNil(s *fakeSink) archive.Sink {
	if s == nil {
		return nil
	}
	return s
}

type fixture struct {
	events   *eventstore.MemoryStore
	log      *lifecycle.MemoryLog
	engine   *aggregate.Engine
	recorder *lifecycle.Recorder
	sink     *fakeSink
	sweeper  *Sweeper
}

func newFixture(t *testing.T, window time.Duration, sink *fakeSink) *fixture {
	t.Helper()

	f := &fixture{
		events: eventstore.NewMemoryStore(),
		log:    lifecycle.NewMemoryLog(),
		engine: aggregate.NewEngine(),
		sink:   sink,
	}
	f.recorder = lifecycle.NewRecorder(f.log, lifecycle.NewStatusStore(), zap.NewNop())

	f.sweeper = New(f.events, f.log, f.engine, f.recorder, sinkOrNil(sink), Config{Window: window}, zap.NewNop())
	f.sweeper.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) ingest(t *testing.T, e telemetry.Event) {
	t.Helper()
	if _, err := f.events.Append(context.Background(), &e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f.engine.Apply(&e)
}

func TestSweepArchivesThenDeletes(t *testing.T) {
	sink := &fakeSink{}
	f := newFixture(t, 30*24*time.Hour, sink)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)

	f.ingest(t, telemetry.Event{EventID: "old-1", Timestamp: old, SessionID: "abc", Action: telemetry.ActionFileCreate, Severity: 10})
	f.ingest(t, telemetry.Event{EventID: "old-2", Timestamp: old.Add(time.Minute), SessionID: "abc", Action: telemetry.ActionFileCreate, Severity: 20})
	f.ingest(t, telemetry.Event{EventID: "new-1", Timestamp: fresh, SessionID: "abc", Action: telemetry.ActionNetworkConnect, Severity: 60})

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if got := f.events.Len(); got != 1 {
		t.Fatalf("events remaining = %d, want 1", got)
	}
	if len(sink.keys) != 1 || !strings.Contains(sink.keys[0], "/events/") {
		t.Fatalf("expected one archived events batch, got keys %v", sink.keys)
	}

	v, ok := f.engine.Vector("abc")
	if !ok {
		t.Fatal("vector for abc dropped entirely")
	}
	if v.TotalEvents != 1 || v.FileCreates != 0 || v.NetworkConns != 1 {
		t.Errorf("vector not refolded from remaining events: %+v", v)
	}
}

func TestSweepAbortsDeleteWhenArchiveFails(t *testing.T) {
	sink := &fakeSink{err: errors.New("bucket unreachable")}
	f := newFixture(t, 30*24*time.Hour, sink)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.ingest(t, telemetry.Event{EventID: "old-1", Timestamp: old, SessionID: "abc", Action: telemetry.ActionFileCreate, Severity: 10})

	if err := f.sweeper.Sweep(context.Background()); err == nil {
		t.Fatal("expected sweep error when archive sink fails")
	}

	if got := f.events.Len(); got != 1 {
		t.Fatalf("events deleted despite archive failure: remaining = %d, want 1", got)
	}
	if _, ok := f.engine.Vector("abc"); !ok {
		t.Fatal("vector dropped despite archive failure")
	}
}

func TestSweepRebuildsStatusProjection(t *testing.T) {
	sink := &fakeSink{}
	f := newFixture(t, 30*24*time.Hour, sink)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)

	mustRecord := func(sessionID string, status lifecycle.Status, at time.Time) {
		t.Helper()
		err := f.recorder.Record(context.Background(), lifecycle.Transition{
			SessionID: sessionID, Status: status, Timestamp: at,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	mustRecord("stale", lifecycle.StatusCompleted, old)
	mustRecord("live", lifecycle.StatusRunning, fresh)

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := f.recorder.Status().JobStatus("stale"); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("stale session still projected after its transitions expired: %v", err)
	}
	js, err := f.recorder.Status().JobStatus("live")
	if err != nil {
		t.Fatalf("JobStatus live: %v", err)
	}
	if js.Status != lifecycle.StatusRunning {
		t.Errorf("live status = %s, want RUNNING", js.Status)
	}
}

func TestSweepWithoutSinkDeletes(t *testing.T) {
	f := newFixture(t, 30*24*time.Hour, nil)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.ingest(t, telemetry.Event{EventID: "old-1", Timestamp: old, SessionID: "abc", Action: telemetry.ActionFileCreate, Severity: 10})

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := f.events.Len(); got != 0 {
		t.Errorf("events remaining = %d, want 0", got)
	}
}
