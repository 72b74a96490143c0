package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helix-sec/crucible/internal/telemetry"
)

// MemoryStore is the authoritative in-process event store. All invariant
// checks (duplicate/conflict detection, read-your-writes for aggregation)
// happen here; the ClickHouse mirror is a write-behind analytics copy and
// is never consulted on this path.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*telemetry.Event
	bySession map[string][]*telemetry.Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*telemetry.Event),
		bySession: make(map[string][]*telemetry.Event),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, event *telemetry.Event) (AppendOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[event.EventID]; ok {
		if existing.Equal(event) {
			return OutcomeDuplicate, nil
		}
		return 0, ErrConflictingEvent
	}

	stored := *event
	if stored.Hashes != nil {
		stored.Hashes = append([]string(nil), event.Hashes...)
	}
	s.byID[stored.EventID] = &stored
	s.bySession[stored.SessionID] = append(s.bySession[stored.SessionID], &stored)
	return OutcomeStored, nil
}

// QueryBySession implements Store.
func (s *MemoryStore) QueryBySession(_ context.Context, sessionID string, from, to time.Time) ([]telemetry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.bySession[sessionID]
	out := make([]telemetry.Event, 0, len(stored))
	for _, e := range stored {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		out = append(out, *e)
	}
	sortAscending(out)
	return out, nil
}

// RecentEvents implements Store.
func (s *MemoryStore) RecentEvents(_ context.Context, limit int) ([]telemetry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.Event, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].EventID > out[j].EventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OlderThan implements Store.
func (s *MemoryStore) OlderThan(_ context.Context, cutoff time.Time) ([]telemetry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []telemetry.Event
	for _, e := range s.byID {
		if e.Timestamp.Before(cutoff) {
			out = append(out, *e)
		}
	}
	sortAscending(out)
	return out, nil
}

// DeleteOlderThan implements Store.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]telemetry.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []telemetry.Event
	for id, e := range s.byID {
		if e.Timestamp.Before(cutoff) {
			removed = append(removed, *e)
			delete(s.byID, id)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	for sessionID, events := range s.bySession {
		kept := events[:0]
		for _, e := range events {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.bySession, sessionID)
		} else {
			s.bySession[sessionID] = kept
		}
	}

	sortAscending(removed)
	return removed, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Sessions returns the identifiers of all sessions with at least one
// stored event, in no particular order.
func (s *MemoryStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySession))
	for id := range s.bySession {
		out = append(out, id)
	}
	return out
}

// sortAscending orders events by timestamp ascending, ties broken by
// event id so results are deterministic under clock skew.
func sortAscending(events []telemetry.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})
}
