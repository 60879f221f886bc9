package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("scheduling lock not acquired")
	// ErrLockUnavailable wraps failures to reach the lock backend at all.
	ErrLockUnavailable = errors.New("scheduling lock backend unavailable")
)

const onCallPoolKey = "lock:oncall-pool"

// Locker guards the check-then-insert sections of the scheduling core.
// Acquisition never waits: a held lock yields ErrLockNotAcquired.
type Locker interface {
	// WithVetLock serialises bookings for a single veterinarian.
	WithVetLock(ctx context.Context, vetID uuid.UUID, fn func(ctx context.Context) error) error
	// WithOnCallPoolLock serialises emergency veterinarian selection.
	WithOnCallPoolLock(ctx context.Context, fn func(ctx context.Context) error) error
}

func vetKey(vetID uuid.UUID) string {
	return fmt.Sprintf("lock:vet:%s", vetID.String())
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker backed by per-key Redis entries, safe across processes.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) WithVetLock(ctx context.Context, vetID uuid.UUID, fn func(ctx context.Context) error) error {
	return l.withKey(ctx, vetKey(vetID), fn)
}

func (l *redisLocker) WithOnCallPoolLock(ctx context.Context, fn func(ctx context.Context) error) error {
	return l.withKey(ctx, onCallPoolKey, fn)
}

func (l *redisLocker) withKey(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: acquire %s: %w", ErrLockUnavailable, key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release with a fresh context so a cancelled request still frees the key
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
