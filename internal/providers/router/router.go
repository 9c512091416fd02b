package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dailydigest/internal/metrics"
	"dailydigest/internal/providers"
	"dailydigest/internal/providers/localserver"
)

type AskRequest struct {
	Messages    []providers.Message
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type Options struct {
	Config         Config
	Clients        map[Kind]providers.Provider
	Probe          Probe
	ProbeTimeout   time.Duration
	DefaultTimeout time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Router routes chat calls to one of the configured backends. It holds no
// mutable state: the backend is selected again for every call.
type Router struct {
	cfg            Config
	clients        map[Kind]providers.Provider
	probe          Probe
	probeTimeout   time.Duration
	defaultTimeout time.Duration
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

func New(opts Options) *Router {
	m := opts.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if opts.Config.Provider == "" {
		opts.Config.Provider = KindAuto
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	clients := make(map[Kind]providers.Provider, len(opts.Clients))
	for k, c := range opts.Clients {
		if c != nil {
			clients[k] = c
		}
	}
	return &Router{
		cfg:            opts.Config,
		clients:        clients,
		probe:          opts.Probe,
		probeTimeout:   opts.ProbeTimeout,
		defaultTimeout: opts.DefaultTimeout,
		logger:         opts.Logger.With().Str("component", "llm_router").Logger(),
		metrics:        m,
	}
}

// Select returns the backend the next call would use.
func (r *Router) Select(ctx context.Context) Descriptor {
	return Select(ctx, r.cfg, r.boundedProbe())
}

// Ask sends the conversation to the selected backend. In auto mode a failing
// primary falls through to the remaining available backends in Priority order.
func (r *Router) Ask(ctx context.Context, req AskRequest) (string, error) {
	return r.AskVia(ctx, r.Select(ctx), req)
}

// AskVia is Ask with a primary already chosen by Select, so callers that
// report the descriptor do not probe the local server a second time.
func (r *Router) AskVia(ctx context.Context, primary Descriptor, req AskRequest) (string, error) {
	if !primary.Available() {
		r.metrics.LLMRequests.WithLabelValues(string(KindNone), string(CodeNoProvider)).Inc()
		return "", &Error{Code: CodeNoProvider, Provider: r.cfg.Provider, Reason: primary.Reason}
	}

	candidates := []Descriptor{primary}
	if r.cfg.Provider == KindAuto {
		candidates = append(candidates, r.fallbacks(ctx, primary.Kind)...)
	}

	var lastErr error
	for i, d := range candidates {
		if i > 0 {
			r.metrics.LLMFallbacks.Inc()
			r.logger.Warn().Err(lastErr).Str("fallback", string(d.Kind)).Msg("primary backend failed, falling back")
		}
		text, err := r.call(ctx, d, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (r *Router) fallbacks(ctx context.Context, primary Kind) []Descriptor {
	out := make([]Descriptor, 0, len(Priority))
	seen := false
	for _, kind := range Priority {
		if kind == primary {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		if d, err := check(ctx, r.cfg, kind, r.boundedProbe()); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func (r *Router) call(ctx context.Context, d Descriptor, req AskRequest) (string, error) {
	client, ok := r.clients[d.Kind]
	if !ok {
		r.metrics.LLMRequests.WithLabelValues(string(d.Kind), string(CodeNoProvider)).Inc()
		return "", &Error{Code: CodeNoProvider, Provider: d.Kind, Reason: "client not configured"}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Chat(callCtx, providers.ChatRequest{
		Model:       d.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	log := r.logger.With().Str("provider", string(d.Kind)).Dur("elapsed", time.Since(start)).Logger()

	if err != nil {
		code := CodeUnreachable
		var pe *localserver.ParseError
		if errors.As(err, &pe) {
			code = CodeEmptyResponse
		}
		r.metrics.LLMRequests.WithLabelValues(string(d.Kind), string(code)).Inc()
		log.Warn().Err(err).Str("code", string(code)).Msg("llm call failed")
		return "", &Error{Code: code, Provider: d.Kind, Err: err}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		r.metrics.LLMRequests.WithLabelValues(string(d.Kind), string(CodeEmptyResponse)).Inc()
		log.Warn().Msg("llm returned empty content")
		return "", &Error{Code: CodeEmptyResponse, Provider: d.Kind, Reason: "no content in response"}
	}

	r.metrics.LLMRequests.WithLabelValues(string(d.Kind), "ok").Inc()
	log.Debug().Msg("llm call succeeded")
	return text, nil
}

func (r *Router) boundedProbe() Probe {
	if r.probe == nil {
		return nil
	}
	return func(ctx context.Context, local LocalConfig) error {
		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()
		return r.probe(probeCtx, local)
	}
}
