package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dailydigest/internal/queue"
	"dailydigest/internal/scheduler"
	"dailydigest/internal/storage"
)

type scriptedSender struct {
	mu    sync.Mutex
	errs  []error
	calls []int64
	times []time.Time
}

func (s *scriptedSender) SendNow(_ context.Context, userID int64, now time.Time) (*scheduler.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID)
	s.times = append(s.times, now)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &scheduler.Digest{Record: storage.DigestRecord{ID: int64(len(s.calls)), UserID: userID}}, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestQueue(t *testing.T) (*redis.Client, *queue.StreamQueue) {
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
	return rdb, queue.NewStreamQueue(rdb, "test:send-now", "test-workers", "w1", 50*time.Millisecond)
}

func runWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, 1) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("worker exited with %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("worker did not stop")
		}
	})
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestWorkerProcessesJob(t *testing.T) {
	_, q := newTestQueue(t)
	sender := &scriptedSender{}
	w := New(Config{Queue: q, Sender: sender, Logger: zerolog.Nop()})
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	requested := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	if _, err := q.Enqueue(context.Background(), queue.DigestJob{UserID: 7, RequestedAt: requested}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	runWorker(t, w)

	waitFor(t, func() bool { return sender.callCount() == 1 })
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls[0] != 7 || !sender.times[0].Equal(requested) {
		t.Fatalf("unexpected call user=%d at=%s", sender.calls[0], sender.times[0])
	}
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	_, q := newTestQueue(t)
	sender := &scriptedSender{errs: []error{errors.New("feed down"), nil}}
	w := New(Config{Queue: q, Sender: sender, MaxJobRetries: 2, Logger: zerolog.Nop()})
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), queue.DigestJob{UserID: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	runWorker(t, w)

	waitFor(t, func() bool { return sender.callCount() == 2 })
}

func TestWorkerGivesUpAfterRetries(t *testing.T) {
	rdb, q := newTestQueue(t)
	boom := errors.New("boom")
	sender := &scriptedSender{errs: []error{boom, boom, boom, boom}}
	w := New(Config{Queue: q, Sender: sender, MaxJobRetries: 1, Logger: zerolog.Nop()})
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), queue.DigestJob{UserID: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	runWorker(t, w)

	waitFor(t, func() bool { return sender.callCount() == 2 })
	time.Sleep(200 * time.Millisecond)
	if got := sender.callCount(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if n := rdb.XLen(context.Background(), "test:send-now").Val(); n != 0 {
		t.Fatalf("expected drained stream, got %d entries", n)
	}
}

func TestWorkerDropsTerminalErrors(t *testing.T) {
	for _, terminal := range []error{scheduler.ErrAlreadySent, storage.ErrNotFound} {
		t.Run(terminal.Error(), func(t *testing.T) {
			rdb, q := newTestQueue(t)
			sender := &scriptedSender{errs: []error{terminal}}
			w := New(Config{Queue: q, Sender: sender, MaxJobRetries: 3, Logger: zerolog.Nop()})
			if err := q.EnsureGroup(context.Background()); err != nil {
				t.Fatalf("ensure group: %v", err)
			}
			if _, err := q.Enqueue(context.Background(), queue.DigestJob{UserID: 9}); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			runWorker(t, w)

			waitFor(t, func() bool { return sender.callCount() == 1 })
			time.Sleep(200 * time.Millisecond)
			if got := sender.callCount(); got != 1 {
				t.Fatalf("terminal error should not be retried, got %d calls", got)
			}
			if n := rdb.XLen(context.Background(), "test:send-now").Val(); n != 0 {
				t.Fatalf("expected drained stream, got %d entries", n)
			}
		})
	}
}

func TestWorkerReclaimsAbandonedJob(t *testing.T) {
	rdb, q := newTestQueue(t)
	ctx := context.Background()
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if _, err := q.Enqueue(ctx, queue.DigestJob{UserID: 4}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// a consumer that read the job and died
	dead := queue.NewStreamQueue(rdb, "test:send-now", "test-workers", "dead", 10*time.Millisecond)
	if msgs, err := dead.Read(ctx, 1); err != nil || len(msgs) != 1 {
		t.Fatalf("dead read: %+v err=%v", msgs, err)
	}

	sender := &scriptedSender{}
	w := New(Config{Queue: q, Sender: sender, Logger: zerolog.Nop()})
	w.reclaimEvery = 20 * time.Millisecond
	w.reclaimIdle = 0
	runWorker(t, w)

	waitFor(t, func() bool { return sender.callCount() == 1 })
}
