package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dailydigest/internal/providers"
	"dailydigest/internal/providers/gemini"
	"dailydigest/internal/providers/localserver"
	"dailydigest/internal/providers/openai_compat"
	"dailydigest/internal/providers/router"
)

type BuildOptions struct {
	Config      router.Config
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

// Backends holds one client per configured backend kind.
type Backends struct {
	Clients map[router.Kind]providers.Provider
	closers []func() error
}

func (b *Backends) Close() error {
	var firstErr error
	for _, c := range b.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build creates clients for every backend that has an endpoint or a key.
// Which one serves a call is decided later by the router.
func Build(ctx context.Context, opts BuildOptions) (*Backends, error) {
	cfg := opts.Config
	out := &Backends{Clients: map[router.Kind]providers.Provider{}}

	if strings.TrimSpace(cfg.Local.BaseURL) != "" {
		out.Clients[router.KindLocal] = localserver.New(localserver.Config{
			BaseURL:    cfg.Local.BaseURL,
			Model:      cfg.Local.Model,
			ChatPath:   cfg.Local.ChatPath,
			HealthPath: cfg.Local.HealthPath,
			HTTPClient: opts.HTTPClient,
		})
	}

	if strings.TrimSpace(cfg.OpenAI.APIKey) != "" {
		out.Clients[router.KindOpenAI] = openai_compat.New(openai_compat.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.OpenAI.Model,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		})
	}

	if strings.TrimSpace(cfg.Gemini.APIKey) != "" {
		g, err := gemini.New(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model})
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("build gemini backend: %w", err)
		}
		out.Clients[router.KindGemini] = g
		out.closers = append(out.closers, g.Close)
	}

	kinds := make([]string, 0, len(out.Clients))
	for _, k := range router.Priority {
		if _, ok := out.Clients[k]; ok {
			kinds = append(kinds, string(k))
		}
	}
	opts.Logger.Info().Strs("backends", kinds).Str("mode", string(cfg.Provider)).Msg("llm backends configured")
	return out, nil
}

// LocalProbe adapts localserver.Probe to the router's liveness hook.
func LocalProbe(client *http.Client) router.Probe {
	return func(ctx context.Context, local router.LocalConfig) error {
		return localserver.Probe(ctx, client, local.BaseURL, local.HealthPath)
	}
}
