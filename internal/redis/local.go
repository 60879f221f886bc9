package redisclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// localLocker is an in-process Locker for single-instance deployments and tests.
// It has the same fail-fast semantics as the Redis locker.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localLocker) WithVetLock(ctx context.Context, vetID uuid.UUID, fn func(ctx context.Context) error) error {
	return l.withKey(ctx, vetKey(vetID), fn)
}

func (l *localLocker) WithOnCallPoolLock(ctx context.Context, fn func(ctx context.Context) error) error {
	return l.withKey(ctx, onCallPoolKey, fn)
}

func (l *localLocker) withKey(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return ErrLockNotAcquired
	}
	defer m.Unlock()

	return fn(ctx)
}
