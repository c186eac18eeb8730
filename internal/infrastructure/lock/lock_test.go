package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLocker_ExclusiveUntilRelease(t *testing.T) {
	l := NewLocalLocker(time.Millisecond, 0)
	ctx := context.Background()

	first, err := l.Obtain(ctx, "detect:up-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "detect:up-1", time.Minute)
	assert.ErrorIs(t, err, port.ErrLockNotObtained)

	other, err := l.Obtain(ctx, "detect:up-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := l.Obtain(ctx, "detect:up-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker_ExpiredLockIsTakenOver(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	l := NewLocalLocker(time.Millisecond, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	// the stale holder must not free the new holder's lock
	require.NoError(t, stale.Release(ctx))
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, port.ErrLockNotObtained)

	require.NoError(t, fresh.Release(ctx))
}

func TestLocalLocker_RetriesUntilFree(t *testing.T) {
	l := NewLocalLocker(5*time.Millisecond, 50)
	ctx := context.Background()

	held, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	got, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, got.Release(ctx))
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker(time.Second, 5)
	held, err := l.Obtain(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Obtain(ctx, "k", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_ConcurrentObtainHasOneWinner(t *testing.T) {
	l := NewLocalLocker(time.Millisecond, 0)
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Obtain(context.Background(), "k", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisLocker(client, "", 10*time.Millisecond, 2, zap.NewNop())
	_, err := l.Obtain(context.Background(), "detect:up-1", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, port.ErrLockNotObtained)
}
