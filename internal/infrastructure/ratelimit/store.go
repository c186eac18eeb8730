// Package ratelimit implements fixed-window request limiting over a
// pluggable counter store.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CounterStore increments the hit counter of key for the current window.
// It returns the count after the increment and the time left in the window.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

type windowEntry struct {
	start time.Time
	count int64
}

// MemoryStore keeps counters in process memory. Counts are not shared
// between instances.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*windowEntry
	now   func() time.Time
}

// NewMemoryStore creates an empty in-process counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*windowEntry),
		now:   time.Now,
	}
}

// Incr counts one hit for key
func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.items[key]
	if entry == nil || now.Sub(entry.start) >= window {
		entry = &windowEntry{start: now}
		s.items[key] = entry
	}
	entry.count++

	return entry.count, entry.start.Add(window).Sub(now), nil
}

// Sweep drops windows that ended before now
func (s *MemoryStore) Sweep(window time.Duration) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.items {
		if now.Sub(entry.start) >= window {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// RedisStore shares counters between instances through Redis
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed counter store. Keys are namespaced
// with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// Incr runs INCR and PTTL in one round trip and starts the window expiry on
// the first hit
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	fullKey := s.prefix + key

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pttl = pipe.PTTL(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	count := incr.Val()
	ttl := pttl.Val()
	if count == 1 || ttl < 0 {
		if err := s.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to set rate window expiry: %w", err)
		}
		ttl = window
	}

	return count, ttl, nil
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

var (
	_ CounterStore = (*MemoryStore)(nil)
	_ CounterStore = (*RedisStore)(nil)
)
