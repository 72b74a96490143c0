package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL cache of authenticated producer contexts. Reads use
// sync.Map so the ingest hot path never takes a lock.
//
// Expired entries are served stale while a single background refresh
// re-verifies the key, so after first contact no request blocks on the
// database plus bcrypt.
type AuthCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	producer   *ProducerContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult is the outcome of a cache lookup.
type GetResult struct {
	Producer     *ProducerContext
	Hit          bool
	NeedsRefresh bool
}

// Get looks up the API key. A fresh hit returns the entry; a stale hit
// still returns it but reports NeedsRefresh=true to exactly one caller,
// which is expected to refresh in the background. A miss returns the zero
// result.
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return GetResult{}
	}

	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Producer: entry.producer, Hit: true}
	}

	// CompareAndSwap so only one goroutine takes the refresh.
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return GetResult{
		Producer:     entry.producer,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a producer context with the configured TTL.
func (c *AuthCache) Set(apiKey string, producer *ProducerContext) {
	c.store.Store(apiKey, &cacheEntry{
		producer:  producer,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry, forcing the next lookup to miss.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}
