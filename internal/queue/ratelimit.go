package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter counts news requests per client in fixed windows aligned to
// the window length.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(rdb *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &RateLimiter{redis: rdb, limit: limit, window: window}
}

// Allow records one request for client and reports whether it fits in the
// current window. A limit of zero or less disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, client string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	start := now.UTC().Truncate(r.window)
	resetAt = start.Add(r.window)
	if r.limit <= 0 {
		return true, 0, resetAt, nil
	}

	ttl := int64(resetAt.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	key := fmt.Sprintf("dailydigest:ratelimit:%s:%d", client, start.Unix())
	used, err = incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return used <= r.limit, used, resetAt, nil
}
