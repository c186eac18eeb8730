package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLocker hands out locks shared by every instance using the same Redis
type RedisLocker struct {
	client  *redislock.Client
	prefix  string
	backoff time.Duration
	retries int
	logger  *zap.Logger
}

// NewRedisLocker creates a redislock-backed locker. Busy keys are retried
// with a linear backoff.
func NewRedisLocker(client redis.UniversalClient, prefix string, backoff time.Duration, retries int, logger *zap.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "lock:"
	}
	return &RedisLocker{
		client:  redislock.New(client),
		prefix:  prefix,
		backoff: backoff,
		retries: retries,
		logger:  logger,
	}
}

// Obtain acquires key for ttl or returns port.ErrLockNotObtained
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (port.Lock, error) {
	strategy := redislock.NoRetry()
	if l.retries > 0 && l.backoff > 0 {
		strategy = redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries)
	}

	lk, err := l.client.Obtain(ctx, l.prefix+key, ttl, &redislock.Options{RetryStrategy: strategy})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, port.ErrLockNotObtained
		}
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return &redisLock{lock: lk, key: key, logger: l.logger}, nil
}

type redisLock struct {
	lock   *redislock.Lock
	key    string
	logger *zap.Logger
}

// Release frees the key. A lock that already expired is not an error.
func (l *redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		l.logger.Warn("Lock expired before release", zap.String("key", l.key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

var _ port.Locker = (*RedisLocker)(nil)
