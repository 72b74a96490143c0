package report

import (
	"errors"
	"sync"
	"time"
)

// Verdict values produced by the scoring service.
const (
	VerdictBenign     = "Benign"
	VerdictSuspicious = "Suspicious"
	VerdictMalicious  = "Malicious"
)

// Report is the terminal artifact of one successful scoring attempt. A
// session may accumulate several across rescoring; the latest by timestamp
// is authoritative.
type Report struct {
	SessionID      string    `json:"session_id"`
	Score          int64     `json:"score"`
	Verdict        string    `json:"verdict"`
	TriggeredRules []string  `json:"triggered_rules"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrNotFound is returned when a session has no stored report.
var ErrNotFound = errors.New("report: not found")

// Store keeps analysis reports per session in memory.
type Store struct {
	mu        sync.RWMutex
	bySession map[string][]Report
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{bySession: make(map[string][]Report)}
}

// Append stores one report.
func (s *Store) Append(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession[r.SessionID] = append(s.bySession[r.SessionID], r)
}

// Latest returns the session's most recent report by timestamp.
func (s *Store) Latest(sessionID string) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := s.bySession[sessionID]
	if len(reports) == 0 {
		return Report{}, ErrNotFound
	}
	latest := reports[0]
	for _, r := range reports[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return latest, nil
}

// All returns every report for the session, in arrival order.
func (s *Store) All(sessionID string) []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Report(nil), s.bySession[sessionID]...)
}
