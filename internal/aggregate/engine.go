package aggregate

import (
	"sync"
	"time"

	"github.com/helix-sec/crucible/internal/telemetry"
)

// FeatureVector is the per-session behavioral summary derived from the
// session's full telemetry set. It is a pure function of the event set and
// carries no identity beyond the session key.
type FeatureVector struct {
	SessionID       string    `json:"session_id"`
	TotalEvents     int64     `json:"total_events"`
	FileCreates     int64     `json:"file_creates"`
	FileWrites      int64     `json:"file_writes"`
	ProcessCreates  int64     `json:"process_creates"`
	NetworkConns    int64     `json:"network_conns"`
	DNSQueries      int64     `json:"dns_queries"`
	UniqueProcesses int64     `json:"unique_processes"`
	MaxSeverity     int       `json:"max_severity"`
	DownloaderFlow  bool      `json:"downloader_flow"`
	LastActivity    time.Time `json:"last_activity"`
}

// sessionState holds the running counters for one session. The downloader
// flow pattern (a NetworkConnect strictly before some ProcessCreate in
// timestamp order) reduces to two timestamps, which keeps the update O(1)
// and correct under out-of-order arrival.
type sessionState struct {
	vector       FeatureVector
	processNames map[string]struct{}
	earliestNet  time.Time
	latestProc   time.Time
}

func (st *sessionState) downloaderFlow() bool {
	return !st.earliestNet.IsZero() && !st.latestProc.IsZero() &&
		st.earliestNet.Before(st.latestProc)
}

// Engine maintains FeatureVectors as a continuously consistent view of the
// event store. Apply is called synchronously on the ingest path after a
// successful append, so a vector read issued after an append response
// reflects that append (read-your-writes).
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{sessions: make(map[string]*sessionState)}
}

// Apply folds one newly durable event into its session's running vector.
// Out-of-order timestamps are tolerated; no cross-session ordering is
// assumed.
func (e *Engine) Apply(event *telemetry.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(event)
}

func (e *Engine) applyLocked(event *telemetry.Event) {
	st, ok := e.sessions[event.SessionID]
	if !ok {
		st = &sessionState{
			vector:       FeatureVector{SessionID: event.SessionID},
			processNames: make(map[string]struct{}),
		}
		e.sessions[event.SessionID] = st
	}

	v := &st.vector
	v.TotalEvents++
	switch event.Action {
	case telemetry.ActionFileCreate:
		v.FileCreates++
	case telemetry.ActionFileWrite:
		v.FileWrites++
	case telemetry.ActionProcessCreate:
		v.ProcessCreates++
		if st.latestProc.IsZero() || event.Timestamp.After(st.latestProc) {
			st.latestProc = event.Timestamp
		}
	case telemetry.ActionNetworkConnect:
		v.NetworkConns++
		if st.earliestNet.IsZero() || event.Timestamp.Before(st.earliestNet) {
			st.earliestNet = event.Timestamp
		}
	case telemetry.ActionDNSQuery:
		v.DNSQueries++
	}

	if event.ProcessName != "" {
		if _, seen := st.processNames[event.ProcessName]; !seen {
			st.processNames[event.ProcessName] = struct{}{}
			v.UniqueProcesses++
		}
	}
	if event.Severity > v.MaxSeverity {
		v.MaxSeverity = event.Severity
	}
	if event.Timestamp.After(v.LastActivity) {
		v.LastActivity = event.Timestamp
	}
	v.DownloaderFlow = st.downloaderFlow()
}

// Vector returns the session's current feature vector. The second return
// is false for sessions with no recorded events — vectors are only
// materialized for sessions with at least one event.
func (e *Engine) Vector(sessionID string) (FeatureVector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		return FeatureVector{}, false
	}
	return st.vector, true
}

// Sessions returns the identifiers of all sessions with a materialized
// vector, in no particular order.
func (e *Engine) Sessions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		out = append(out, id)
	}
	return out
}

// Rebuild discards all state and refolds the given events, typically the
// event store's full contents at startup. Vectors are always recomputable
// this way; the incremental path is an optimization, not a source of
// truth.
func (e *Engine) Rebuild(events []telemetry.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = make(map[string]*sessionState)
	for i := range events {
		e.applyLocked(&events[i])
	}
}

// RefoldSession replaces one session's state from its current event set.
// The retention sweeper calls this after deleting expired events; an empty
// set removes the vector entirely.
func (e *Engine) RefoldSession(sessionID string, events []telemetry.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
	for i := range events {
		e.applyLocked(&events[i])
	}
}
