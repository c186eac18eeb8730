package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most limit hits per key in each fixed window
type Limiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewLimiter creates a limiter. A non-positive limit disables limiting.
func NewLimiter(store CounterStore, limit int, window time.Duration, logger *zap.Logger) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow counts a hit for key. Store failures admit the request.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true}
	}

	count, ttl, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		l.logger.Warn("Rate limit store unavailable, allowing request",
			zap.String("key", key),
			zap.Error(err))
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
	}
	if !d.Allowed {
		if ttl <= 0 {
			ttl = l.window
		}
		d.RetryAfter = ttl
	}
	return d
}

// Window returns the configured window length
func (l *Limiter) Window() time.Duration {
	return l.window
}
