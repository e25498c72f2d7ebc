package aggregator

import (
	"sync"
	"time"
)

// queryCache tracks when a keyed query last completed successfully so
// repeated calls inside the TTL can reuse the stored balances instead of
// hitting the remote sources again. Account modifications flush the keys
// their chain contributed to.
type queryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
}

func newQueryCache(ttl time.Duration) *queryCache {
	return &queryCache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// fresh reports whether the key completed within the TTL.
func (c *queryCache) fresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[key]
	return ok && time.Since(at) < c.ttl
}

// mark records a successful completion of the key.
func (c *queryCache) mark(key string) {
	c.mu.Lock()
	c.entries[key] = time.Now()
	c.mu.Unlock()
}

// flush drops the given keys.
func (c *queryCache) flush(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// flushAll drops every key.
func (c *queryCache) flushAll() {
	c.mu.Lock()
	c.entries = make(map[string]time.Time)
	c.mu.Unlock()
}
