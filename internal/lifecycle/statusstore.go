package lifecycle

import (
	"sort"
	"sync"
)

// StatusStore is the materialized latest-wins projection of the transition
// log: at most one JobStatus per session. It holds no independent truth —
// it can always be rebuilt by refolding the log — and its merge rule is
// idempotent and commutative, so reordered and re-delivered transitions
// from loosely coordinated producers converge to the same projection.
type StatusStore struct {
	mu       sync.RWMutex
	sessions map[string]JobStatus
}

// NewStatusStore creates an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{sessions: make(map[string]JobStatus)}
}

// Merge folds one transition into the projection. Greatest timestamp wins;
// a transition carrying the exact same timestamp as the current row also
// wins (last-applied-wins tie break, deterministic for a given apply
// order). Older transitions are absorbed without effect.
func (s *StatusStore) Merge(t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[t.SessionID]
	if ok && t.Timestamp.Before(current.LastUpdated) {
		return
	}
	s.sessions[t.SessionID] = JobStatus{
		SessionID:   t.SessionID,
		Status:      t.Status,
		LastUpdated: t.Timestamp,
		Details:     t.Details,
	}
}

// JobStatus returns the session's current status, or ErrNotFound if no
// transition has ever been recorded for it.
func (s *StatusStore) JobStatus(sessionID string) (JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	js, ok := s.sessions[sessionID]
	if !ok {
		return JobStatus{}, ErrNotFound
	}
	return js, nil
}

// SessionsWithStatus returns up to limit sessions currently in the given
// status, oldest first, so long-waiting jobs are picked up before fresh
// ones. A limit of 0 or less means no limit.
func (s *StatusStore) SessionsWithStatus(status Status, limit int) []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []JobStatus
	for _, js := range s.sessions {
		if js.Status == status {
			out = append(out, js)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.Before(out[j].LastUpdated)
		}
		return out[i].SessionID < out[j].SessionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Drop removes a session's projection entirely. Used when retention has
// deleted every transition for the session.
func (s *StatusStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Reset discards the projection and refolds the given transitions.
func (s *StatusStore) Reset(transitions []Transition) {
	s.mu.Lock()
	s.sessions = make(map[string]JobStatus)
	s.mu.Unlock()
	for _, t := range transitions {
		s.Merge(t)
	}
}
