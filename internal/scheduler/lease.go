package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a short-lived per-session marker suppressing duplicate
// in-flight scoring calls when cycles overlap. It is best-effort: losing a
// lease (expiry, Redis outage) at worst causes a duplicate trigger, which
// the scorer tolerates because the session id is its correlation key.
type Lease interface {
	// Acquire takes the session's lease. Returns false if another holder
	// has it.
	Acquire(ctx context.Context, sessionID string) (bool, error)

	// Release frees the session's lease. Best-effort; an expired lease is
	// already free.
	Release(ctx context.Context, sessionID string)
}

// MemoryLease is the in-process Lease used when no Redis address is
// configured. Sufficient for a single pipeline instance.
type MemoryLease struct {
	mu      sync.Mutex
	ttl     time.Duration
	held    map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryLease creates a MemoryLease with the given expiry.
func NewMemoryLease(ttl time.Duration) *MemoryLease {
	return &MemoryLease{
		ttl:     ttl,
		held:    make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// Acquire implements Lease.
func (l *MemoryLease) Acquire(_ context.Context, sessionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFunc()
	if expiry, ok := l.held[sessionID]; ok && now.Before(expiry) {
		return false, nil
	}
	l.held[sessionID] = now.Add(l.ttl)
	return true, nil
}

// Release implements Lease.
func (l *MemoryLease) Release(_ context.Context, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}

// RedisLease coordinates scoring across multiple pipeline instances with
// SET NX EX.
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLease creates a RedisLease over the given client.
func NewRedisLease(client *redis.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, ttl: ttl}
}

func leaseKey(sessionID string) string {
	return "crucible:score-lease:" + sessionID
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, sessionID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(sessionID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Acquire session=%s: %w", sessionID, err)
	}
	return ok, nil
}

// Release implements Lease.
func (l *RedisLease) Release(ctx context.Context, sessionID string) {
	_ = l.client.Del(ctx, leaseKey(sessionID)).Err()
}
