// Package cache provides process-local caches with expiry.
package cache

import (
	"sync"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache stores values in memory for a fixed TTL. A zero TTL keeps
// entries until they are deleted.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	items map[string]cacheEntry[V]
	ttl   time.Duration
	now   func() time.Time
}

// NewTTLCache creates a cache whose entries expire ttl after Set
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		items: make(map[string]cacheEntry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a cached value if it exists and has not expired
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Set stores a value with the cache's TTL
func (c *TTLCache[V]) Set(key string, value V) {
	if c == nil {
		return
	}
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.items[key] = cacheEntry[V]{value: value, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Delete removes a cached entry
func (c *TTLCache[V]) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until they are read
func (c *TTLCache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// NoopCache always misses
type NoopCache[V any] struct{}

// Get always returns a miss
func (NoopCache[V]) Get(key string) (V, bool) {
	var zero V
	return zero, false
}

// Set is a no-op
func (NoopCache[V]) Set(key string, value V) {}

// Delete is a no-op
func (NoopCache[V]) Delete(key string) {}

var (
	_ port.Cache[int] = (*TTLCache[int])(nil)
	_ port.Cache[int] = NoopCache[int]{}
)
