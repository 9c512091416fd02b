package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"dailydigest/internal/metrics"
	"dailydigest/internal/news"
	"dailydigest/internal/storage"
)

const (
	dateLayout        = "2006-01-02"
	clockLayout       = "15:04"
	DefaultDigestTime = "08:00"
	everyMinute       = "* * * * *"
)

var (
	ErrAlreadySent = errors.New("digest already sent today")
	ErrInProgress  = errors.New("digest generation already in progress")
)

type Store interface {
	ListEnabledNotificationSettings(ctx context.Context) ([]storage.NotificationSetting, error)
	GetNotificationSetting(ctx context.Context, userID int64) (storage.NotificationSetting, error)
	EnsureNotificationSetting(ctx context.Context, userID int64, digestTime string) (storage.NotificationSetting, error)
	ClaimDigestDate(ctx context.Context, userID int64, date string) (bool, error)
	ReleaseDigestDate(ctx context.Context, userID int64, date string, previous *string) error
	GetPreferences(ctx context.Context, userID int64) (storage.Preferences, error)
	HasDigest(ctx context.Context, userID int64, date string) (bool, error)
	SaveDigest(ctx context.Context, d storage.DigestRecord, n storage.Notification) (storage.DigestRecord, storage.Notification, error)
}

type NewsBuilder interface {
	Build(ctx context.Context, q news.Query) (*news.Result, error)
}

// Locker guards a (user, date) pair across instances.
type Locker interface {
	Acquire(ctx context.Context, userID int64, date string) (bool, func(context.Context) error, error)
}

type Notifier interface {
	SendDigest(ctx context.Context, chatID int64, text string) error
}

type Defaults struct {
	Topic  string
	Region string
	Locale string
}

type Config struct {
	Store    Store
	News     NewsBuilder
	Lock     Locker
	Notifier Notifier
	Location *time.Location
	Defaults Defaults
	// DigestTimeout bounds one user's generation inside a tick.
	DigestTimeout time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

type Scheduler struct {
	store         Store
	news          NewsBuilder
	lock          Locker
	notifier      Notifier
	loc           *time.Location
	defaults      Defaults
	digestTimeout time.Duration
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	cron          *cron.Cron
}

// Digest is one persisted daily digest and the notification created with it.
type Digest struct {
	Record       storage.DigestRecord `json:"digest"`
	Notification storage.Notification `json:"notification"`
}

// TickReport summarizes one scheduler pass.
type TickReport struct {
	Due       int
	Generated int
	Skipped   int
	Failed    int
}

func New(cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.DigestTimeout <= 0 {
		cfg.DigestTimeout = 3 * time.Minute
	}
	if cfg.Defaults.Topic == "" {
		cfg.Defaults.Topic = news.DefaultTopic
	}
	if cfg.Defaults.Locale == "" {
		cfg.Defaults.Locale = "en"
	}
	return &Scheduler{
		store:         cfg.Store,
		news:          cfg.News,
		lock:          cfg.Lock,
		notifier:      cfg.Notifier,
		loc:           cfg.Location,
		defaults:      cfg.Defaults,
		digestTimeout: cfg.DigestTimeout,
		logger:        cfg.Logger.With().Str("component", "scheduler").Logger(),
		metrics:       cfg.Metrics,
	}
}

// Start runs Tick at the top of every wall-clock minute until ctx is done
// or Stop is called. Overlapping ticks are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(everyMinute, func() { s.Tick(ctx, time.Now()) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.Info().Str("tz", s.loc.String()).Msg("digest scheduler started")
	return nil
}

// Stop halts the cron loop and returns a context that is done once the
// running tick, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Tick generates digests for every enabled user whose delivery time is the
// current minute and who has not received today's digest yet. One user's
// failure never stops the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickReport {
	s.metrics.SchedulerTicks.Inc()
	local := now.In(s.loc)
	clock := local.Format(clockLayout)
	today := local.Format(dateLayout)

	var report TickReport
	settings, err := s.store.ListEnabledNotificationSettings(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list notification settings")
		return report
	}

	for _, setting := range settings {
		if ctx.Err() != nil {
			break
		}
		if normalizeClock(setting.DigestTime) != clock {
			continue
		}
		if setting.LastSentDate != nil && *setting.LastSentDate == today {
			continue
		}
		report.Due++

		userCtx, cancel := context.WithTimeout(ctx, s.digestTimeout)
		_, err := s.Generate(userCtx, setting, local)
		cancel()
		switch {
		case err == nil:
			report.Generated++
		case errors.Is(err, ErrAlreadySent), errors.Is(err, ErrInProgress):
			report.Skipped++
		default:
			report.Failed++
			s.logger.Error().Err(err).Int64("user_id", setting.UserID).Msg("scheduled digest failed")
		}
	}

	if report.Due > 0 {
		s.logger.Info().
			Str("clock", clock).
			Int("due", report.Due).
			Int("generated", report.Generated).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("scheduler tick")
	}
	return report
}

// SendNow generates today's digest for a user on demand. It shares the
// once-per-day guard with the scheduled path.
func (s *Scheduler) SendNow(ctx context.Context, userID int64, now time.Time) (*Digest, error) {
	local := now.In(s.loc)
	today := local.Format(dateLayout)

	setting, err := s.store.GetNotificationSetting(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		setting, err = s.store.EnsureNotificationSetting(ctx, userID, DefaultDigestTime)
	}
	if err != nil {
		return nil, err
	}

	sent, err := s.store.HasDigest(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	if sent {
		return nil, ErrAlreadySent
	}
	return s.Generate(ctx, setting, local)
}

// Generate claims today's slot for the user, builds the digest and stores it
// together with its notification. The claim is released again on any
// failure before the digest is persisted.
func (s *Scheduler) Generate(ctx context.Context, setting storage.NotificationSetting, now time.Time) (*Digest, error) {
	local := now.In(s.loc)
	today := local.Format(dateLayout)
	userID := setting.UserID
	log := s.logger.With().Int64("user_id", userID).Str("date", today).Logger()

	if s.lock != nil {
		ok, unlock, err := s.lock.Acquire(ctx, userID, today)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("digest lock unavailable, relying on db claim")
		case !ok:
			return nil, ErrInProgress
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("release digest lock")
				}
			}()
		}
	}

	claimed, err := s.store.ClaimDigestDate(ctx, userID, today)
	if err != nil {
		s.metrics.DigestsFailed.Inc()
		return nil, fmt.Errorf("claim digest: %w", err)
	}
	if !claimed {
		return nil, ErrAlreadySent
	}

	release := func(cause error) error {
		if err := s.store.ReleaseDigestDate(context.WithoutCancel(ctx), userID, today, setting.LastSentDate); err != nil {
			log.Error().Err(err).Msg("release digest claim")
		}
		s.metrics.DigestsFailed.Inc()
		return cause
	}

	query := s.query(ctx, userID)
	res, err := s.news.Build(ctx, query)
	if err != nil {
		return nil, release(fmt.Errorf("build digest: %w", err))
	}

	payload, err := json.Marshal(newPayload(today, query, res))
	if err != nil {
		return nil, release(fmt.Errorf("marshal digest: %w", err))
	}
	title, body := renderNotification(today, query.Topic, res)

	rec, note, err := s.store.SaveDigest(ctx,
		storage.DigestRecord{UserID: userID, DigestDate: today, PayloadJSON: payload},
		storage.Notification{UserID: userID, Title: title, Body: body},
	)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrAlreadySent
		}
		return nil, release(fmt.Errorf("save digest: %w", err))
	}
	s.metrics.DigestsGenerated.Inc()
	log.Info().Int64("digest_id", rec.ID).Int("items", len(res.Items)).Bool("takeaway", res.Takeaway != nil).Msg("digest generated")

	if s.notifier != nil && setting.TelegramChatID != nil {
		if err := s.notifier.SendDigest(ctx, *setting.TelegramChatID, title+"\n\n"+body); err != nil {
			log.Warn().Err(err).Msg("telegram delivery failed")
		}
	}
	return &Digest{Record: rec, Notification: note}, nil
}

func (s *Scheduler) query(ctx context.Context, userID int64) news.Query {
	q := news.Query{
		Topic:     s.defaults.Topic,
		Region:    s.defaults.Region,
		Locale:    s.defaults.Locale,
		Summarize: true,
	}
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Int64("user_id", userID).Msg("load preferences, using defaults")
		}
		return q
	}
	if t := strings.TrimSpace(prefs.Topic); t != "" {
		q.Topic = t
	}
	if r := strings.TrimSpace(prefs.Region); r != "" {
		q.Region = r
	}
	if l := strings.TrimSpace(prefs.Locale); l != "" {
		q.Locale = l
	}
	q.Sources = prefs.Sources
	return q
}

// ParseClock validates an HH:MM delivery time and returns it zero-padded.
func ParseClock(v string) (string, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(v))
	if err != nil {
		if t2, err2 := time.Parse("15:4", strings.TrimSpace(v)); err2 == nil {
			return t2.Format(clockLayout), nil
		}
		return "", fmt.Errorf("digest time %q: want HH:MM", v)
	}
	return t.Format(clockLayout), nil
}

func normalizeClock(v string) string {
	c, err := ParseClock(v)
	if err != nil {
		return v
	}
	return c
}
