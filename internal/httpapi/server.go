package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dailydigest/internal/feed"
	"dailydigest/internal/metrics"
	"dailydigest/internal/news"
	"dailydigest/internal/providers/router"
	"dailydigest/internal/queue"
	"dailydigest/internal/scheduler"
	"dailydigest/internal/storage"
)

type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, email, displayName string) (storage.User, error)
	GetUser(ctx context.Context, userID int64) (storage.User, error)
	GetPreferences(ctx context.Context, userID int64) (storage.Preferences, error)
	PutPreferences(ctx context.Context, p storage.Preferences) (storage.Preferences, error)
	GetNotificationSetting(ctx context.Context, userID int64) (storage.NotificationSetting, error)
	PutNotificationSetting(ctx context.Context, n storage.NotificationSetting) (storage.NotificationSetting, error)
	HasDigest(ctx context.Context, userID int64, date string) (bool, error)
	ListDigests(ctx context.Context, userID int64, limit uint64) ([]storage.DigestRecord, error)
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit uint64) ([]storage.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID int64) error
}

type NewsService interface {
	Build(ctx context.Context, q news.Query) (*news.Result, error)
	Regions() []feed.Region
}

// LLM is the part of the provider router the API exposes.
type LLM interface {
	Select(ctx context.Context) router.Descriptor
	AskVia(ctx context.Context, primary router.Descriptor, req router.AskRequest) (string, error)
}

type DigestSender interface {
	SendNow(ctx context.Context, userID int64, now time.Time) (*scheduler.Digest, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.DigestJob) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, client string, now time.Time) (bool, int64, time.Time, error)
}

type Config struct {
	Store  Store
	News   NewsService
	LLM    LLM
	Digest DigestSender
	// Queue is optional. Without it send-now runs inline.
	Queue Enqueuer
	// Limiter is optional and only guards the news endpoint.
	Limiter     Limiter
	Defaults    scheduler.Defaults
	Location    *time.Location
	HealthPath  string
	MetricsPath string
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

type Server struct {
	store       Store
	news        NewsService
	llm         LLM
	digest      DigestSender
	queue       Enqueuer
	limiter     Limiter
	defaults    scheduler.Defaults
	loc         *time.Location
	healthPath  string
	metricsPath string
	now         func() time.Time
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Server{
		store:       cfg.Store,
		news:        cfg.News,
		llm:         cfg.LLM,
		digest:      cfg.Digest,
		queue:       cfg.Queue,
		limiter:     cfg.Limiter,
		defaults:    cfg.Defaults,
		loc:         loc,
		healthPath:  cfg.HealthPath,
		metricsPath: cfg.MetricsPath,
		now:         time.Now,
		logger:      cfg.Logger.With().Str("component", "httpapi").Logger(),
		metrics:     m,
	}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	healthPath, metricsPath := s.healthPath, s.metricsPath
	if healthPath == "" {
		healthPath = "/healthz"
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	r.GET(healthPath, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", s.apiHealth)
	api.GET("/regions", s.regions)
	api.GET("/news", s.getNews)
	api.GET("/llm/status", s.llmStatus)
	api.GET("/llm/test", s.llmTest)

	api.POST("/users", s.createUser)
	users := api.Group("/users/:id")
	users.GET("", s.getUser)
	users.GET("/preferences", s.getPreferences)
	users.PUT("/preferences", s.putPreferences)
	users.GET("/notification-settings", s.getNotificationSettings)
	users.PUT("/notification-settings", s.putNotificationSettings)
	users.POST("/digest/send-now", s.sendNow)
	users.GET("/digests", s.listDigests)
	users.GET("/notifications", s.listNotifications)
	users.POST("/notifications/:nid/read", s.markNotificationRead)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status/100)+"xx").Inc()

		ev := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) apiHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
