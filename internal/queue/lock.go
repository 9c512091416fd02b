package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DigestLock serializes digest generation for one user and date across
// instances sharing a Redis.
type DigestLock struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewDigestLock(rdb *redis.Client, ttl time.Duration) *DigestLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DigestLock{redis: rdb, ttl: ttl}
}

func digestLockKey(userID int64, date string) string {
	return fmt.Sprintf("dailydigest:digest-lock:%d:%s", userID, date)
}

// Acquire reports whether this caller now holds the lock. The returned
// release func deletes the key only while it still carries our token.
func (l *DigestLock) Acquire(ctx context.Context, userID int64, date string) (bool, func(context.Context) error, error) {
	key := digestLockKey(userID, date)
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("digest lock setnx: %w", err)
	}
	if !ok {
		return false, nil, nil
	}
	release := func(ctx context.Context) error {
		if err := releaseLockScript.Run(ctx, l.redis, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("digest lock release: %w", err)
		}
		return nil
	}
	return true, release, nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
