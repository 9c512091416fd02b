package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dailydigest/internal/metrics"
	"dailydigest/internal/queue"
	"dailydigest/internal/scheduler"
	"dailydigest/internal/storage"
)

type Queue interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int64) ([]queue.Message, error)
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, messageID string) error
	Enqueue(ctx context.Context, job queue.DigestJob) (string, error)
}

// DigestSender generates a digest on demand.
type DigestSender interface {
	SendNow(ctx context.Context, userID int64, now time.Time) (*scheduler.Digest, error)
}

type Worker struct {
	queue         Queue
	sender        DigestSender
	maxJobRetries int
	jobTimeout    time.Duration
	reclaimEvery  time.Duration
	reclaimIdle   time.Duration
	now           func() time.Time
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Queue         Queue
	Sender        DigestSender
	MaxJobRetries int
	JobTimeout    time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 3 * time.Minute
	}
	return &Worker{
		queue:         cfg.Queue,
		sender:        cfg.Sender,
		maxJobRetries: cfg.MaxJobRetries,
		jobTimeout:    cfg.JobTimeout,
		reclaimEvery:  time.Minute,
		reclaimIdle:   cfg.JobTimeout + time.Minute,
		now:           time.Now,
		logger:        cfg.Logger.With().Str("component", "worker").Logger(),
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}
		for _, msg := range messages {
			w.handle(ctx, log, msg)
		}
	}
}

// reclaimLoop picks up jobs left pending by a consumer that died before
// acknowledging them.
func (w *Worker) reclaimLoop(ctx context.Context) {
	log := w.logger.With().Str("loop", "reclaim").Logger()
	ticker := time.NewTicker(w.reclaimEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		messages, err := w.queue.Reclaim(ctx, w.reclaimIdle, 10)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to reclaim pending jobs")
			}
			continue
		}
		for _, msg := range messages {
			log.Warn().Str("msg_id", msg.ID).Msg("reclaimed stale job")
			w.handle(ctx, log, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, log zerolog.Logger, msg queue.Message) {
	job := msg.Job
	log = log.With().Str("job_id", job.JobID).Int64("user_id", job.UserID).Logger()

	err := w.processJob(ctx, job)
	switch {
	case err == nil:
		w.metrics.WorkerJobs.WithLabelValues("ok").Inc()
	case isTerminal(err):
		w.metrics.WorkerJobs.WithLabelValues("skipped").Inc()
		log.Info().Err(err).Msg("send-now job dropped")
	case job.Attempts < w.maxJobRetries:
		w.metrics.WorkerJobs.WithLabelValues("retried").Inc()
		log.Warn().Err(err).Int("attempt", job.Attempts).Msg("job failed, re-enqueueing")
		job.Attempts++
		if _, enqueueErr := w.queue.Enqueue(ctx, job); enqueueErr != nil {
			// leave it pending so the message is not lost
			log.Error().Err(enqueueErr).Msg("failed to re-enqueue failed job")
			return
		}
	default:
		w.metrics.WorkerJobs.WithLabelValues("failed").Inc()
		log.Error().Err(err).Int("attempt", job.Attempts).Msg("job failed")
	}

	if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
	}
}

func (w *Worker) processJob(ctx context.Context, job queue.DigestJob) error {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	// the digest belongs to the day it was requested on
	now := job.RequestedAt
	if now.IsZero() {
		now = w.now()
	}
	d, err := w.sender.SendNow(jobCtx, job.UserID, now)
	if err != nil {
		return err
	}
	w.logger.Info().Str("job_id", job.JobID).Int64("digest_id", d.Record.ID).Msg("send-now digest generated")
	return nil
}

func isTerminal(err error) bool {
	return errors.Is(err, scheduler.ErrAlreadySent) || errors.Is(err, storage.ErrNotFound)
}
