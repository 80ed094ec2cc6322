package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned when another holder owns the key.
var ErrLockBusy = errors.New("lock is held by another process")

// ReleaseFunc gives a lock back. It is safe to call more than once.
type ReleaseFunc func()

// Locker hands out short-lived exclusive locks keyed by string.
type Locker interface {
	Lock(ctx context.Context, key string) (ReleaseFunc, error)
}

// RedisLocker is a Locker on top of redislock.
type RedisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLocker{locker: redislock.New(rdb), ttl: ttl}
}

// Lock obtains key without retrying. A key held elsewhere yields ErrLockBusy.
func (l *RedisLocker) Lock(ctx context.Context, key string) (ReleaseFunc, error) {
	lock, err := l.locker.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockBusy
	}
	if err != nil {
		return nil, err
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Use a fresh context: the caller's may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(ctx)
	}, nil
}

// NoopLocker always succeeds. It is used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (ReleaseFunc, error) {
	return func() {}, nil
}
