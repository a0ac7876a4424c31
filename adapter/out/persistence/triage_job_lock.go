package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"triage_server/core/port/out"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const jobLockPrefix = "triage:lock:"

// RedisJobLocker implements out.JobLocker with bsm/redislock.
type RedisJobLocker struct {
	locker *redislock.Client
}

func NewRedisJobLocker(client *redis.Client) *RedisJobLocker {
	return &RedisJobLocker{locker: redislock.New(client)}
}

// Acquire makes a single attempt; a held lock returns out.ErrLockHeld.
func (l *RedisJobLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, jobLockPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, out.ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// LocalJobLocker is used when no Redis is configured. It never contends.
type LocalJobLocker struct{}

func (LocalJobLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

var (
	_ out.JobLocker = (*RedisJobLocker)(nil)
	_ out.JobLocker = LocalJobLocker{}
)
