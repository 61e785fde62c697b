package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("job lock held elsewhere")

// JobLocker lets exactly one replica run a named background job at a time.
// Booking paths rely on database row locks, not on this.
type JobLocker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type redisJobLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJobLocker returns a locker keyed by job name. ttl bounds both the key's
// lifetime and the context handed to fn.
func NewJobLocker(client *redis.Client, ttl time.Duration) JobLocker {
	return &redisJobLocker{client: client, ttl: ttl}
}

func lockKey(name string) string {
	return "lock:job:" + name
}

func (l *redisJobLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := lockKey(name)
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", name, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// Release even if ctx was cancelled mid-job.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, owner)
	}()

	jobCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(jobCtx)
}

// Deletes the key only if we still own it.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisJobLocker) release(ctx context.Context, key, owner string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// LocalLocker serializes jobs inside one process. It is used when no Redis
// address is configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *LocalLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[name] {
		l.mu.Unlock()
		return ErrLockNotAcquired
	}
	l.held[name] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
