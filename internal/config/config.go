package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dailydigest/internal/providers/router"
)

const (
	ModeAll       = "ALL"
	ModeAPI       = "API"
	ModeScheduler = "SCHEDULER"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrInvalidProvider    = errors.New("LLM_PROVIDER must be one of auto, local, openai, gemini")
	ErrInvalidTimezone    = errors.New("SCHEDULER_TIMEZONE is not a known time zone")
)

type Config struct {
	AppMode  string
	BotToken string

	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	LLM       LLMConfig
	HTTP      HTTPConfig
	Feed      FeedConfig
	Defaults  DefaultsConfig
	Scheduler SchedulerConfig
	Worker    WorkerConfig
	Rate      RateConfig
	Log       LogConfig
}

type ServerConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

// RedisConfig is optional: an empty Addr turns off the send-now queue, the
// digest lock and rate limiting.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	QueueStream   string
	QueueGroup    string
	QueueBlock    time.Duration
	DigestLockTTL time.Duration
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type LLMConfig struct {
	Provider     router.Kind
	Timeout      time.Duration
	ProbeTimeout time.Duration
	Local        router.LocalConfig
	OpenAI       router.HostedConfig
	Gemini       router.HostedConfig
}

func (l LLMConfig) RouterConfig() router.Config {
	return router.Config{
		Provider: l.Provider,
		Local:    l.Local,
		OpenAI:   l.OpenAI,
		Gemini:   l.Gemini,
	}
}

type HTTPConfig struct {
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type FeedConfig struct {
	MaxItems  int
	Timeout   time.Duration
	UserAgent string
}

type DefaultsConfig struct {
	Topic  string
	Region string
	Locale string
}

type SchedulerConfig struct {
	Enabled  bool
	Timezone string
	Location *time.Location
}

type WorkerConfig struct {
	Concurrency  int
	ConsumerName string
	MaxRetries   int
}

type RateConfig struct {
	Limit  int64
	Window time.Duration
}

type LogConfig struct {
	Level string
}

func (c *Config) RunsAPI() bool { return c.AppMode == ModeAll || c.AppMode == ModeAPI }

func (c *Config) RunsScheduler() bool {
	return c.AppMode == ModeAll || c.AppMode == ModeScheduler
}

// Load reads the environment, after merging variables from ENV_FILE (.env by
// default) when that file exists. Real environment variables win.
func Load() (*Config, error) {
	if err := loadDotEnv(mustEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	provider, err := router.ParseKind(mustEnv("LLM_PROVIDER", string(router.KindAuto)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}

	cfg := &Config{
		AppMode:  strings.ToUpper(mustEnv("APP_MODE", ModeAll)),
		BotToken: mustEnv("BOT_TOKEN", ""),
		Server: ServerConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", ":5001"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "data/dailydigest.db"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:          mustEnv("REDIS_ADDR", ""),
			Password:      mustEnv("REDIS_PASSWORD", ""),
			DB:            mustInt("REDIS_DB", 0),
			QueueStream:   mustEnv("QUEUE_STREAM", "dailydigest:send-now"),
			QueueGroup:    mustEnv("QUEUE_GROUP", "dailydigest-workers"),
			QueueBlock:    mustDuration("QUEUE_BLOCK", 5*time.Second),
			DigestLockTTL: mustDuration("DIGEST_LOCK_TTL", 10*time.Minute),
		},
		LLM: LLMConfig{
			Provider:     provider,
			Timeout:      mustDuration("LLM_TIMEOUT", 30*time.Second),
			ProbeTimeout: mustDuration("LLM_PROBE_TIMEOUT", 2*time.Second),
			Local: router.LocalConfig{
				BaseURL:    mustEnv("LOCAL_LLM_URL", ""),
				Model:      mustEnv("LOCAL_LLM_MODEL", "llama3.1"),
				ChatPath:   mustEnv("LOCAL_LLM_CHAT_PATH", "/v1/chat/completions"),
				HealthPath: mustEnv("LOCAL_LLM_HEALTH_PATH", "/v1/models"),
			},
			OpenAI: router.HostedConfig{
				APIKey:  mustEnv("OPENAI_API_KEY", ""),
				BaseURL: mustEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   mustEnv("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Gemini: router.HostedConfig{
				APIKey: mustEnv("GEMINI_API_KEY", ""),
				Model:  mustEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			},
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 30*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 1),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Feed: FeedConfig{
			MaxItems:  mustInt("FEED_MAX_ITEMS", 15),
			Timeout:   mustDuration("FEED_TIMEOUT", 15*time.Second),
			UserAgent: mustEnv("FEED_USER_AGENT", "dailydigest/1.0"),
		},
		Defaults: DefaultsConfig{
			Topic:  mustEnv("DEFAULT_TOPIC", "trending"),
			Region: strings.ToLower(mustEnv("DEFAULT_REGION", "us")),
			Locale: mustEnv("DEFAULT_LOCALE", "en"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  mustBool("SCHEDULER_ENABLED", true),
			Timezone: mustEnv("SCHEDULER_TIMEZONE", "Local"),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 1),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("worker")),
			MaxRetries:   mustInt("WORKER_MAX_RETRIES", 2),
		},
		Rate: RateConfig{
			Limit:  int64(mustInt("RATE_LIMIT", 60)),
			Window: mustDuration("RATE_LIMIT_WINDOW", time.Hour),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.AppMode != ModeAll && cfg.AppMode != ModeAPI && cfg.AppMode != ModeScheduler {
		return nil, fmt.Errorf("unsupported APP_MODE %q", cfg.AppMode)
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, cfg.Scheduler.Timezone)
	}
	cfg.Scheduler.Location = loc

	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
