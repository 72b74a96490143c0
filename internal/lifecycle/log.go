package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TransitionLog is append-only storage for lifecycle transitions. The
// StatusStore projection is always recomputable from it.
type TransitionLog interface {
	// Append durably stores one transition. No retries are performed here;
	// a write failure surfaces directly to the caller.
	Append(ctx context.Context, t Transition) error

	// All returns every stored transition, timestamp ascending. Used to
	// rebuild the projection at startup.
	All(ctx context.Context) ([]Transition, error)

	// OlderThan returns transitions with a timestamp before cutoff, oldest
	// first, without removing them.
	OlderThan(ctx context.Context, cutoff time.Time) ([]Transition, error)

	// DeleteOlderThan removes transitions with a timestamp before cutoff
	// and returns the removed rows, oldest first.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]Transition, error)
}

// MemoryLog is the in-process TransitionLog used when no Postgres DSN is
// configured, and throughout the test suites.
type MemoryLog struct {
	mu          sync.RWMutex
	transitions []Transition
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements TransitionLog.
func (l *MemoryLog) Append(_ context.Context, t Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, t)
	return nil
}

// All implements TransitionLog.
func (l *MemoryLog) All(_ context.Context) ([]Transition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := append([]Transition(nil), l.transitions...)
	sortTransitions(out)
	return out, nil
}

// OlderThan implements TransitionLog.
func (l *MemoryLog) OlderThan(_ context.Context, cutoff time.Time) ([]Transition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Transition
	for _, t := range l.transitions {
		if t.Timestamp.Before(cutoff) {
			out = append(out, t)
		}
	}
	sortTransitions(out)
	return out, nil
}

// DeleteOlderThan implements TransitionLog.
func (l *MemoryLog) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]Transition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []Transition
	kept := l.transitions[:0]
	for _, t := range l.transitions {
		if t.Timestamp.Before(cutoff) {
			removed = append(removed, t)
		} else {
			kept = append(kept, t)
		}
	}
	l.transitions = kept
	sortTransitions(removed)
	return removed, nil
}

// Len returns the number of stored transitions.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.transitions)
}

func sortTransitions(ts []Transition) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].Timestamp.Equal(ts[j].Timestamp) {
			return ts[i].Timestamp.Before(ts[j].Timestamp)
		}
		return ts[i].ID < ts[j].ID
	})
}
