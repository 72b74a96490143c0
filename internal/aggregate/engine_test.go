package aggregate

import (
	"testing"
	"time"

	"github.com/helix-sec/crucible/internal/telemetry"
)

func event(session string, ts time.Time, action telemetry.Action, process string, severity int) *telemetry.Event {
	return &telemetry.Event{
		EventID:     session + "-" + ts.Format("150405.000000000"),
		Timestamp:   ts,
		SessionID:   session,
		ProcessName: process,
		Action:      action,
		Severity:    severity,
	}
}

// The canonical scenario: 3 file creates, 1 network connect, 1 process
// create after the connect.
func TestEngine_FiveEventScenario(t *testing.T) {
	e := NewEngine()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e.Apply(event("abc", base, telemetry.ActionFileCreate, "dropper.exe", 10))
	e.Apply(event("abc", base.Add(1*time.Second), telemetry.ActionFileCreate, "dropper.exe", 10))
	e.Apply(event("abc", base.Add(2*time.Second), telemetry.ActionFileCreate, "dropper.exe", 10))
	e.Apply(event("abc", base.Add(3*time.Second), telemetry.ActionNetworkConnect, "dropper.exe", 20))
	e.Apply(event("abc", base.Add(4*time.Second), telemetry.ActionProcessCreate, "payload.exe", 90))

	v, ok := e.Vector("abc")
	if !ok {
		t.Fatal("expected a vector for session abc")
	}
	if v.TotalEvents != 5 {
		t.Errorf("total_events: expected 5, got %d", v.TotalEvents)
	}
	if v.FileCreates != 3 {
		t.Errorf("file_creates: expected 3, got %d", v.FileCreates)
	}
	if v.NetworkConns != 1 {
		t.Errorf("network_conns: expected 1, got %d", v.NetworkConns)
	}
	if v.ProcessCreates != 1 {
		t.Errorf("process_creates: expected 1, got %d", v.ProcessCreates)
	}
	if v.MaxSeverity != 90 {
		t.Errorf("max_severity: expected 90, got %d", v.MaxSeverity)
	}
	if !v.DownloaderFlow {
		t.Error("downloader_flow: expected true")
	}
	if v.UniqueProcesses != 2 {
		t.Errorf("unique_processes: expected 2, got %d", v.UniqueProcesses)
	}
	if !v.LastActivity.Equal(base.Add(4 * time.Second)) {
		t.Errorf("last_activity: expected %v, got %v", base.Add(4*time.Second), v.LastActivity)
	}
}

func TestEngine_DownloaderFlowOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("connect then create", func(t *testing.T) {
		e := NewEngine()
		e.Apply(event("x", base, telemetry.ActionNetworkConnect, "a.exe", 20))
		e.Apply(event("x", base.Add(time.Second), telemetry.ActionProcessCreate, "b.exe", 50))
		v, _ := e.Vector("x")
		if !v.DownloaderFlow {
			t.Error("expected downloader_flow true for connect→create")
		}
	})

	t.Run("create then connect", func(t *testing.T) {
		e := NewEngine()
		e.Apply(event("x", base, telemetry.ActionProcessCreate, "a.exe", 50))
		e.Apply(event("x", base.Add(time.Second), telemetry.ActionNetworkConnect, "b.exe", 20))
		v, _ := e.Vector("x")
		if v.DownloaderFlow {
			t.Error("expected downloader_flow false for create→connect")
		}
	})

	t.Run("same timestamp is not a flow", func(t *testing.T) {
		e := NewEngine()
		e.Apply(event("x", base, telemetry.ActionNetworkConnect, "a.exe", 20))
		e.Apply(event("x", base, telemetry.ActionProcessCreate, "b.exe", 50))
		v, _ := e.Vector("x")
		if v.DownloaderFlow {
			t.Error("expected downloader_flow false when timestamps are equal")
		}
	})

	// The pattern is over the timestamp-sorted sequence, not arrival
	// order: events arriving out of order must still be detected.
	t.Run("out of order arrival", func(t *testing.T) {
		e := NewEngine()
		e.Apply(event("x", base.Add(time.Second), telemetry.ActionProcessCreate, "b.exe", 50))
		e.Apply(event("x", base, telemetry.ActionNetworkConnect, "a.exe", 20))
		v, _ := e.Vector("x")
		if !v.DownloaderFlow {
			t.Error("expected downloader_flow true regardless of arrival order")
		}
	})
}

func TestEngine_VectorOnlyForSessionsWithEvents(t *testing.T) {
	e := NewEngine()
	if _, ok := e.Vector("missing"); ok {
		t.Error("expected no vector for an unknown session")
	}
}

func TestEngine_CountsMatchEventSet(t *testing.T) {
	e := NewEngine()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	actions := []telemetry.Action{
		telemetry.ActionFileWrite, telemetry.ActionFileWrite,
		telemetry.ActionDNSQuery,
		telemetry.ActionRegistrySet, // counted in total only
		telemetry.ActionFileDelete,  // counted in total only
	}
	for i, a := range actions {
		e.Apply(event("s", base.Add(time.Duration(i)*time.Second), a, "p.exe", i*10))
	}

	v, _ := e.Vector("s")
	if v.TotalEvents != int64(len(actions)) {
		t.Errorf("total_events: expected %d, got %d", len(actions), v.TotalEvents)
	}
	if v.FileWrites != 2 {
		t.Errorf("file_writes: expected 2, got %d", v.FileWrites)
	}
	if v.DNSQueries != 1 {
		t.Errorf("dns_queries: expected 1, got %d", v.DNSQueries)
	}
	if v.MaxSeverity != 40 {
		t.Errorf("max_severity: expected 40, got %d", v.MaxSeverity)
	}
}

func TestEngine_RebuildMatchesIncremental(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []telemetry.Event{
		*event("s", base, telemetry.ActionNetworkConnect, "a.exe", 20),
		*event("s", base.Add(time.Second), telemetry.ActionProcessCreate, "b.exe", 90),
		*event("s", base.Add(2*time.Second), telemetry.ActionFileCreate, "b.exe", 10),
	}

	incremental := NewEngine()
	for i := range events {
		incremental.Apply(&events[i])
	}
	rebuilt := NewEngine()
	rebuilt.Rebuild(events)

	a, _ := incremental.Vector("s")
	b, _ := rebuilt.Vector("s")
	if a != b {
		t.Errorf("rebuild diverged from incremental:\n inc: %+v\n reb: %+v", a, b)
	}
}

func TestEngine_RefoldSession(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := NewEngine()
	e.Apply(event("s", base, telemetry.ActionFileCreate, "a.exe", 10))
	e.Apply(event("s", base.Add(time.Second), telemetry.ActionFileCreate, "a.exe", 10))

	// Retention removed the first event.
	e.RefoldSession("s", []telemetry.Event{
		*event("s", base.Add(time.Second), telemetry.ActionFileCreate, "a.exe", 10),
	})
	v, ok := e.Vector("s")
	if !ok || v.TotalEvents != 1 {
		t.Errorf("expected refolded vector with 1 event, got %+v (ok=%v)", v, ok)
	}

	// All events gone: the vector disappears.
	e.RefoldSession("s", nil)
	if _, ok := e.Vector("s"); ok {
		t.Error("expected vector removed after refold with no events")
	}
}
