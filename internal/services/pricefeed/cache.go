package pricefeed

import (
	"sync"
	"time"
)

// cacheEntry holds one cached upstream payload keyed by request signature
type cacheEntry struct {
	data      interface{}
	fetchedAt time.Time
	ttl       time.Duration
}

func (e cacheEntry) stale(now time.Time) bool {
	return now.Sub(e.fetchedAt) > e.ttl
}

// requestCache is a TTL cache over upstream request signatures. Hits bypass
// the rate limiter entirely.
type requestCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	nowFunc func() time.Time
}

func newRequestCache(nowFunc func() time.Time) *requestCache {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &requestCache{
		entries: make(map[string]cacheEntry),
		nowFunc: nowFunc,
	}
}

func (c *requestCache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.stale(c.nowFunc()) {
		return nil, false
	}
	return entry.data, true
}

func (c *requestCache) set(key string, data interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		data:      data,
		fetchedAt: c.nowFunc(),
		ttl:       ttl,
	}
}
