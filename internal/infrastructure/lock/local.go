// Package lock provides keyed mutual exclusion for detection runs, in
// process or across instances through Redis.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
)

type localEntry struct {
	token     string
	expiresAt time.Time
}

// LocalLocker hands out in-process locks. An expired lock may be taken over
// by the next caller.
type LocalLocker struct {
	mu         sync.Mutex
	held       map[string]localEntry
	retryEvery time.Duration
	retries    int
	now        func() time.Time
}

// NewLocalLocker creates a locker that retries a busy key up to retries
// times, waiting retryEvery between attempts
func NewLocalLocker(retryEvery time.Duration, retries int) *LocalLocker {
	return &LocalLocker{
		held:       make(map[string]localEntry),
		retryEvery: retryEvery,
		retries:    retries,
		now:        time.Now,
	}
}

// Obtain acquires key for ttl or returns port.ErrLockNotObtained
func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (port.Lock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if l.tryObtain(key, token, ttl) {
			return &localLock{locker: l, key: key, token: token}, nil
		}
		if attempt >= l.retries {
			return nil, port.ErrLockNotObtained
		}

		timer := time.NewTimer(l.retryEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("failed to obtain lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *LocalLocker) tryObtain(key, token string, ttl time.Duration) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return false
	}
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return true
}

func (l *LocalLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.held[key]; ok && entry.token == token {
		delete(l.held, key)
	}
}

type localLock struct {
	locker *LocalLocker
	key    string
	token  string
}

// Release frees the key unless another holder took it over after expiry
func (l *localLock) Release(ctx context.Context) error {
	l.locker.release(l.key, l.token)
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var _ port.Locker = (*LocalLocker)(nil)
