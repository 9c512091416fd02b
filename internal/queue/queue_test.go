package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRateLimiterAllow(t *testing.T) {
	_, rdb := newTestRedis(t)

	rl := NewRateLimiter(rdb, 2, time.Hour)
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	allowed, used, _, err := rl.Allow(context.Background(), "10.0.0.1", now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "10.0.0.1", now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, resetAt, err := rl.Allow(context.Background(), "10.0.0.1", now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}
	if !resetAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected reset time %v", resetAt)
	}

	allowed, _, _, err = rl.Allow(context.Background(), "10.0.0.2", now)
	if err != nil || !allowed {
		t.Fatalf("other clients have their own window: allowed=%v err=%v", allowed, err)
	}

	allowed, used, _, err = rl.Allow(context.Background(), "10.0.0.1", now.Add(time.Hour))
	if err != nil || !allowed || used != 1 {
		t.Fatalf("next window starts fresh: allowed=%v used=%d err=%v", allowed, used, err)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, 0, time.Minute)
	for i := 0; i < 5; i++ {
		if allowed, _, _, err := rl.Allow(context.Background(), "c", time.Now()); err != nil || !allowed {
			t.Fatalf("disabled limiter denied call %d: %v", i, err)
		}
	}
}

func TestDigestLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	lock := NewDigestLock(rdb, time.Minute)
	ctx := context.Background()

	ok, release, err := lock.Acquire(ctx, 7, "2026-10-14")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _, err := lock.Acquire(ctx, 7, "2026-10-14"); err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}
	if ok, rel, err := lock.Acquire(ctx, 8, "2026-10-14"); err != nil || !ok {
		t.Fatalf("other users are independent: ok=%v err=%v", ok, err)
	} else {
		_ = rel(ctx)
	}

	if ttl := mr.TTL(digestLockKey(7, "2026-10-14")); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _, err := lock.Acquire(ctx, 7, "2026-10-14"); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestDigestLockReleaseKeepsForeignLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	lock := NewDigestLock(rdb, time.Minute)
	ctx := context.Background()

	_, release, err := lock.Acquire(ctx, 1, "2026-10-14")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// expired and taken by someone else
	mr.FastForward(2 * time.Minute)
	if ok, _, _ := lock.Acquire(ctx, 1, "2026-10-14"); !ok {
		t.Fatalf("expected lock to be free after ttl")
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists(digestLockKey(1, "2026-10-14")) {
		t.Fatalf("stale release must not delete the new holder's lock")
	}
}

func TestStreamQueueRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	q := NewStreamQueue(rdb, "dailydigest:test", "workers", "c1", 10*time.Millisecond)

	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	jobID, err := q.Enqueue(ctx, DigestJob{UserID: 5})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID == "" {
		t.Fatalf("expected generated job id")
	}
	if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: "dailydigest:test", Values: map[string]any{"payload": "not json"}}).Err(); err != nil {
		t.Fatalf("xadd garbage: %v", err)
	}

	msgs, err := q.Read(ctx, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Job.UserID != 5 || msgs[0].Job.JobID != jobID || msgs[0].Job.EnqueuedAt.IsZero() {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n := rdb.XLen(ctx, "dailydigest:test").Val(); n != 0 {
		t.Fatalf("expected empty stream after ack, got %d", n)
	}

	msgs, err = q.Read(ctx, 10)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected no more messages, got %+v err=%v", msgs, err)
	}
}

func TestStreamQueueReclaim(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	crashed := NewStreamQueue(rdb, "dailydigest:test", "workers", "c1", 10*time.Millisecond)
	survivor := NewStreamQueue(rdb, "dailydigest:test", "workers", "c2", 10*time.Millisecond)

	if err := crashed.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if _, err := crashed.Enqueue(ctx, DigestJob{UserID: 11}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if msgs, err := crashed.Read(ctx, 1); err != nil || len(msgs) != 1 {
		t.Fatalf("read: %+v err=%v", msgs, err)
	}

	msgs, err := survivor.Reclaim(ctx, 0, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Job.UserID != 11 {
		t.Fatalf("unexpected reclaimed messages %+v", msgs)
	}
	if err := survivor.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if msgs, err := survivor.Reclaim(ctx, 0, 10); err != nil || len(msgs) != 0 {
		t.Fatalf("expected nothing left to reclaim, got %+v err=%v", msgs, err)
	}
}
