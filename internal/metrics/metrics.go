package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	LLMRequests      *prometheus.CounterVec
	LLMFallbacks     prometheus.Counter
	SchedulerTicks   prometheus.Counter
	DigestsGenerated prometheus.Counter
	DigestsFailed    prometheus.Counter
	FeedFailures     prometheus.Counter
	SendNowEnqueued  prometheus.Counter
	WorkerJobs       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "llm_requests_total",
				Help:      "LLM backend calls by provider and outcome",
			}, []string{"provider", "outcome"}),
			LLMFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "llm_fallbacks_total",
				Help:      "Calls retried on a lower-priority backend after the primary failed",
			}),
			SchedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "scheduler_ticks_total",
				Help:      "Scheduler ticks executed",
			}),
			DigestsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "digests_generated_total",
				Help:      "Digests persisted",
			}),
			DigestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "digests_failed_total",
				Help:      "Digest generations aborted by an error",
			}),
			FeedFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "feed_failures_total",
				Help:      "Feed fetches that returned no items",
			}),
			SendNowEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "send_now_enqueued_total",
				Help:      "Manual digest requests put on the queue",
			}),
			WorkerJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "worker_jobs_total",
				Help:      "Send-now jobs handled by the worker, by outcome",
			}, []string{"outcome"}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dailydigest",
				Name:      "http_requests_total",
				Help:      "API requests by route and status class",
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			global.LLMRequests,
			global.LLMFallbacks,
			global.SchedulerTicks,
			global.DigestsGenerated,
			global.DigestsFailed,
			global.FeedFailures,
			global.SendNowEnqueued,
			global.WorkerJobs,
			global.HTTPRequests,
		)
	})
	return global
}
