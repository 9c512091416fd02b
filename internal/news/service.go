package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dailydigest/internal/feed"
	"dailydigest/internal/metrics"
	"dailydigest/internal/summary"
)

const (
	DefaultTopic    = "trending"
	DefaultMaxItems = 15
)

var ErrFeedUnreachable = errors.New("feed unreachable")

type Fetcher interface {
	Fetch(ctx context.Context, url string, maxItems int) ([]feed.Item, error)
}

type Summarizer interface {
	GenerateTakeaway(ctx context.Context, items []feed.Item, locale string) (*summary.Takeaway, error)
	ExpandTopic(ctx context.Context, topic string) string
}

type Config struct {
	Fetcher     Fetcher
	Summarizer  Summarizer
	Regions     *feed.Regions
	MaxItems    int
	FeedTimeout time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

type Query struct {
	Topic     string
	Region    string
	CustomURL string
	// Sources are extra feed URLs saved in the user's preferences. When set
	// they replace the search feed.
	Sources   []string
	Locale    string
	Summarize bool
}

type Result struct {
	Items         []feed.Item       `json:"items"`
	Source        string            `json:"source"`
	Sources       []string          `json:"sources,omitempty"`
	Query         string            `json:"query"`
	Region        feed.Region       `json:"region"`
	Takeaway      *summary.Takeaway `json:"takeaway"`
	TakeawayError string            `json:"takeaway_error,omitempty"`
}

type Service struct {
	fetcher     Fetcher
	summarizer  Summarizer
	regions     *feed.Regions
	maxItems    int
	feedTimeout time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

func NewService(cfg Config) *Service {
	if cfg.Regions == nil {
		cfg.Regions = feed.DefaultRegions()
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.FeedTimeout <= 0 {
		cfg.FeedTimeout = 15 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Service{
		fetcher:     cfg.Fetcher,
		summarizer:  cfg.Summarizer,
		regions:     cfg.Regions,
		maxItems:    cfg.MaxItems,
		feedTimeout: cfg.FeedTimeout,
		logger:      cfg.Logger.With().Str("component", "news").Logger(),
		metrics:     cfg.Metrics,
	}
}

func (s *Service) Regions() []feed.Region {
	return s.regions.List()
}

// Build fetches the feed(s) for a query and, when asked, attaches the LLM
// takeaway. A summary failure is reported in the result, never as an error;
// only an empty feed fails the call.
func (s *Service) Build(ctx context.Context, q Query) (*Result, error) {
	topic := strings.TrimSpace(q.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	region := s.regions.Resolve(q.Region)
	res := &Result{Items: []feed.Item{}, Query: topic, Region: region}

	urls := feedURLs(q)
	if len(urls) == 0 {
		res.Query = s.summarizer.ExpandTopic(ctx, topic)
		urls = []string{feed.SearchURL(res.Query, region)}
	}
	res.Source = urls[0]
	if len(urls) > 1 {
		res.Sources = urls
	}

	items, err := s.fetchAll(ctx, urls)
	if len(items) == 0 {
		s.metrics.FeedFailures.Inc()
		if err == nil {
			err = errors.New("feed returned no items")
		}
		return res, fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
	}
	res.Items = items

	if !q.Summarize {
		return res, nil
	}
	tk, err := s.summarizer.GenerateTakeaway(ctx, items, q.Locale)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", res.Query).Msg("takeaway unavailable")
		res.TakeawayError = err.Error()
		return res, nil
	}
	res.Takeaway = tk
	return res, nil
}

func (s *Service) fetchAll(ctx context.Context, urls []string) ([]feed.Item, error) {
	var (
		all     []feed.Item
		lastErr error
	)
	for _, u := range urls {
		fetchCtx, cancel := context.WithTimeout(ctx, s.feedTimeout)
		items, err := s.fetcher.Fetch(fetchCtx, u, s.maxItems)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("url", u).Msg("feed fetch failed")
			lastErr = err
			continue
		}
		all = append(all, items...)
	}
	if len(urls) > 1 {
		feed.SortNewestFirst(all)
	}
	if len(all) > s.maxItems {
		all = all[:s.maxItems]
	}
	return all, lastErr
}

func feedURLs(q Query) []string {
	if u := strings.TrimSpace(q.CustomURL); u != "" {
		return []string{u}
	}
	out := make([]string, 0, len(q.Sources))
	for _, src := range q.Sources {
		if u := strings.TrimSpace(src); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// FailureMessage is the user-facing text for an unreachable feed.
func FailureMessage(locale string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(locale)), "zh") {
		return "無法取得新聞，請稍後再試"
	}
	return "Failed to fetch news, please try again later"
}
