package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dailydigest/internal/config"
	"dailydigest/internal/feed"
	"dailydigest/internal/httpapi"
	"dailydigest/internal/metrics"
	"dailydigest/internal/news"
	"dailydigest/internal/providers/registry"
	"dailydigest/internal/providers/router"
	"dailydigest/internal/queue"
	"dailydigest/internal/scheduler"
	"dailydigest/internal/storage"
	"dailydigest/internal/summary"
	"dailydigest/internal/telegram"
	"dailydigest/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().
		Str("mode", cfg.AppMode).
		Str("llm_provider", string(cfg.LLM.Provider)).
		Str("db_driver", cfg.DB.Driver).
		Bool("redis", cfg.Redis.Enabled()).
		Msg("starting dailydigest")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	m := metrics.Global()
	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}

	backends, err := registry.Build(ctx, registry.BuildOptions{
		Config:      cfg.LLM.RouterConfig(),
		HTTPClient:  httpClient,
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
		Logger:      log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize llm backends")
	}
	defer backends.Close()

	llm := router.New(router.Options{
		Config:         cfg.LLM.RouterConfig(),
		Clients:        backends.Clients,
		Probe:          registry.LocalProbe(&http.Client{Timeout: cfg.LLM.ProbeTimeout}),
		ProbeTimeout:   cfg.LLM.ProbeTimeout,
		DefaultTimeout: cfg.LLM.Timeout,
		Logger:         log.Logger,
		Metrics:        m,
	})
	selected := llm.Select(ctx)
	log.Info().Str("kind", string(selected.Kind)).Str("model", selected.Model).Str("reason", selected.Reason).Msg("llm backend selected")

	newsService := news.NewService(news.Config{
		Fetcher: feed.NewFetcher(&http.Client{Timeout: cfg.Feed.Timeout}, cfg.Feed.UserAgent),
		Summarizer: summary.New(summary.Config{
			Asker:   llm,
			Timeout: cfg.LLM.Timeout,
			Logger:  log.Logger,
		}),
		MaxItems:    cfg.Feed.MaxItems,
		FeedTimeout: cfg.Feed.Timeout,
		Logger:      log.Logger,
		Metrics:     m,
	})

	defaults := scheduler.Defaults{
		Topic:  cfg.Defaults.Topic,
		Region: cfg.Defaults.Region,
		Locale: cfg.Defaults.Locale,
	}
	schedCfg := scheduler.Config{
		Store:    store,
		News:     newsService,
		Location: cfg.Scheduler.Location,
		Defaults: defaults,
		Logger:   log.Logger,
		Metrics:  m,
	}
	if rdb != nil {
		schedCfg.Lock = queue.NewDigestLock(rdb, cfg.Redis.DigestLockTTL)
	}
	if strings.TrimSpace(cfg.BotToken) != "" {
		notifier, err := telegram.NewNotifier(telegram.Config{Token: cfg.BotToken, Logger: log.Logger})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create telegram notifier")
		}
		schedCfg.Notifier = notifier
	}
	sched := scheduler.New(schedCfg)

	var jobQueue *queue.StreamQueue
	if rdb != nil {
		jobQueue = queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	}

	errCh := make(chan error, 4)
	var httpServer *http.Server

	if cfg.RunsAPI() {
		apiCfg := httpapi.Config{
			Store:       store,
			News:        newsService,
			LLM:         llm,
			Digest:      sched,
			Defaults:    defaults,
			Location:    cfg.Scheduler.Location,
			HealthPath:  cfg.Server.HealthPath,
			MetricsPath: cfg.Server.MetricsPath,
			Logger:      log.Logger,
			Metrics:     m,
		}
		if jobQueue != nil {
			apiCfg.Queue = jobQueue
			apiCfg.Limiter = queue.NewRateLimiter(rdb, cfg.Rate.Limit, cfg.Rate.Window)
		}
		httpServer = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           httpapi.New(apiCfg).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	} else {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Server.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())
		httpServer = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Bool("api", cfg.RunsAPI()).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.RunsScheduler() {
		if cfg.Scheduler.Enabled {
			if err := sched.Start(ctx); err != nil {
				log.Fatal().Err(err).Msg("failed to start scheduler")
			}
		} else {
			log.Warn().Msg("scheduler disabled by SCHEDULER_ENABLED")
		}

		if jobQueue != nil {
			w := worker.New(worker.Config{
				Queue:         jobQueue,
				Sender:        sched,
				MaxJobRetries: cfg.Worker.MaxRetries,
				Logger:        log.Logger,
				Metrics:       m,
			})
			go func() {
				if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
					errCh <- fmt.Errorf("worker failed: %w", err)
				}
			}()
			log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("send-now worker started")
		}
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("scheduler tick still running at shutdown")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
