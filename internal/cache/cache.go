// Package cache holds completed job results keyed by request fingerprint so
// repeated identical requests skip re-execution.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	result    map[string]any
	expiresAt time.Time
}

// Cache is a mutex-guarded TTL map. Expiry is lazy: an expired entry is
// treated as absent on read and physically removed by PurgeExpired. When the
// entry count reaches maxEntries, inserting evicts the entry closest to
// expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	maxEntries int
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache bounded at maxEntries. A non-positive bound means
// unbounded.
func New(maxEntries int, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached result for fingerprint. Entries at or past their
// expiry are never returned. The returned map is a copy; mutating it does
// not touch the cached entry.
func (c *Cache) Get(fingerprint string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, fingerprint)
		return nil, false
	}

	out := make(map[string]any, len(e.result))
	for k, v := range e.result {
		out[k] = v
	}
	return out, true
}

// Put stores result under fingerprint for ttl. A non-positive ttl means the
// result is not cacheable and the call is a no-op.
func (c *Cache) Put(fingerprint string, result map[string]any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fingerprint]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[fingerprint] = entry{result: result, expiresAt: c.now().Add(ttl)}
}

// Invalidate removes fingerprint and reports whether an entry was present.
func (c *Cache) Invalidate(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fingerprint]
	delete(c.entries, fingerprint)
	return ok
}

// PurgeExpired removes all expired entries and reports how many were
// dropped. Called by the cleanup sweeper.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for fp, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, fp)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("purged expired cache entries", "removed", removed, "remaining", len(c.entries))
	}
	return removed
}

// Len returns the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops the entry with the earliest expiry. Caller holds mu.
func (c *Cache) evictLocked() {
	var victim string
	var earliest time.Time
	for fp, e := range c.entries {
		if victim == "" || e.expiresAt.Before(earliest) {
			victim = fp
			earliest = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}
