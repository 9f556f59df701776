package redisclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("date lock not acquired")
)

// DateLocker serializes ledger mutations for a calendar date so that
// booking creation and queue resequencing observe a consistent snapshot.
type DateLocker interface {
	WithDateLock(ctx context.Context, dateKey string, fn func(ctx context.Context) error) error
}

type redisDateLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisDateLocker creates a locker keyed by date. Acquisition retries
// with jittered backoff up to the wait budget, then gives up with
// ErrLockNotAcquired so callers can surface a retryable error instead of
// blocking indefinitely.
func NewRedisDateLocker(client *redis.Client, ttl, wait time.Duration) DateLocker {
	return &redisDateLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisDateLocker) WithDateLock(ctx context.Context, dateKey string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:date:%s", dateKey)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire date lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}

		backoff := time.Duration(10+rand.Intn(30)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	defer func() {
		_ = l.release(ctx, key, token)
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

func (l *redisDateLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release date lock: %w", err)
	}
	return nil
}
