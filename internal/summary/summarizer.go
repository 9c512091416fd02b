package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"dailydigest/internal/feed"
	"dailydigest/internal/providers"
	"dailydigest/internal/providers/router"
)

const (
	maxTitles        = 10
	takeawayTokens   = 500
	takeawayTemp     = 0.7
	defaultTimeout   = 30 * time.Second
	keywordTokens    = 30
	keywordTimeout   = 10 * time.Second
	maxTopicKeywords = 2
)

var ErrNoItems = errors.New("no headlines to summarize")

// Asker is the slice of the router the summarizer needs.
type Asker interface {
	Ask(ctx context.Context, req router.AskRequest) (string, error)
}

type Section struct {
	ThingsToWatch string `json:"things_to_watch"`
	Takeaway      string `json:"takeaway"`
}

type Takeaway struct {
	ThingsToWatch string   `json:"things_to_watch"`
	Takeaway      string   `json:"takeaway"`
	Locale        string   `json:"locale"`
	English       *Section `json:"english,omitempty"`
	// TranslationError is set when the localized pass failed and the
	// English text is being served instead.
	TranslationError string `json:"translation_error,omitempty"`
}

type Config struct {
	Asker   Asker
	Timeout time.Duration
	Logger  zerolog.Logger
}

type Summarizer struct {
	asker   Asker
	timeout time.Duration
	logger  zerolog.Logger
}

func New(cfg Config) *Summarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Summarizer{
		asker:   cfg.Asker,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "summary").Logger(),
	}
}

// GenerateTakeaway asks the model for the two-part digest of the newest
// headlines. Non-English locales get a second translation pass.
func (s *Summarizer) GenerateTakeaway(ctx context.Context, items []feed.Item, locale string) (*Takeaway, error) {
	titles := headlineTitles(items)
	if len(titles) == 0 {
		return nil, ErrNoItems
	}

	raw, err := s.asker.Ask(ctx, router.AskRequest{
		Messages:    providers.SystemAndUser(analystPrompt, takeawayPrompt(titles)),
		MaxTokens:   takeawayTokens,
		Temperature: takeawayTemp,
		Timeout:     s.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("generate takeaway: %w", err)
	}
	english := splitSections(raw)

	tag := ParseLocale(locale)
	if IsEnglish(tag) {
		return &Takeaway{
			ThingsToWatch: english.ThingsToWatch,
			Takeaway:      english.Takeaway,
			Locale:        "en",
		}, nil
	}

	translated, err := s.asker.Ask(ctx, router.AskRequest{
		Messages:    providers.SystemAndUser(translatorPrompt, translatePrompt(LanguageName(tag), raw)),
		MaxTokens:   takeawayTokens * 2,
		Temperature: 0.3,
		Timeout:     s.timeout,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("locale", tag.String()).Msg("translation failed, serving english")
		return &Takeaway{
			ThingsToWatch:    english.ThingsToWatch,
			Takeaway:         english.Takeaway,
			Locale:           "en",
			English:          &english,
			TranslationError: err.Error(),
		}, nil
	}

	local := splitSections(translated)
	return &Takeaway{
		ThingsToWatch: local.ThingsToWatch,
		Takeaway:      local.Takeaway,
		Locale:        tag.String(),
		English:       &english,
	}, nil
}

func headlineTitles(items []feed.Item) []string {
	out := make([]string, 0, maxTitles)
	for _, it := range items {
		t := strings.TrimSpace(it.Title)
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == maxTitles {
			break
		}
	}
	return out
}

// ParseLocale normalizes a request locale. Bare "zh" means Traditional
// Chinese; anything unparsable is English.
func ParseLocale(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return language.English
	}
	if strings.EqualFold(locale, "zh") {
		return language.TraditionalChinese
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	return tag
}

func IsEnglish(tag language.Tag) bool {
	base, _ := tag.Base()
	return base.String() == "en"
}

func LanguageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}
