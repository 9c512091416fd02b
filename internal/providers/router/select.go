package router

import (
	"context"
	"fmt"
	"strings"
)

type Kind string

const (
	KindAuto   Kind = "auto"
	KindLocal  Kind = "local"
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
	KindNone   Kind = "none"
)

// Priority is the automatic selection and fallback order.
var Priority = []Kind{KindLocal, KindOpenAI, KindGemini}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindAuto, nil
	case KindAuto, KindLocal, KindOpenAI, KindGemini:
		return k, nil
	default:
		return "", fmt.Errorf("unknown llm provider %q", s)
	}
}

type LocalConfig struct {
	BaseURL    string
	Model      string
	ChatPath   string
	HealthPath string
}

type HostedConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Config struct {
	Provider Kind
	Local    LocalConfig
	OpenAI   HostedConfig
	Gemini   HostedConfig
}

// Probe checks that the local model server answers.
type Probe func(ctx context.Context, local LocalConfig) error

// Descriptor is the routing decision for one call.
type Descriptor struct {
	Kind     Kind   `json:"kind"`
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (d Descriptor) Available() bool {
	return d.Kind != KindNone && d.Kind != ""
}

const geminiEndpoint = "https://generativelanguage.googleapis.com"

// Select picks the backend for a call. A forced provider is never replaced by
// another one; auto mode takes the first available backend in Priority order.
func Select(ctx context.Context, cfg Config, probe Probe) Descriptor {
	if cfg.Provider != "" && cfg.Provider != KindAuto {
		d, err := check(ctx, cfg, cfg.Provider, probe)
		if err != nil {
			return Descriptor{Kind: KindNone, Reason: fmt.Sprintf("forced provider %s unavailable: %v", cfg.Provider, err)}
		}
		return d
	}

	reasons := make([]string, 0, len(Priority))
	for _, kind := range Priority {
		d, err := check(ctx, cfg, kind, probe)
		if err == nil {
			return d
		}
		reasons = append(reasons, fmt.Sprintf("%s: %v", kind, err))
	}
	return Descriptor{Kind: KindNone, Reason: "no llm backend available (" + strings.Join(reasons, "; ") + ")"}
}

func check(ctx context.Context, cfg Config, kind Kind, probe Probe) (Descriptor, error) {
	switch kind {
	case KindLocal:
		if strings.TrimSpace(cfg.Local.BaseURL) == "" {
			return Descriptor{}, fmt.Errorf("endpoint not configured")
		}
		if probe == nil {
			return Descriptor{}, fmt.Errorf("no liveness probe")
		}
		if err := probe(ctx, cfg.Local); err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Kind: KindLocal, Endpoint: cfg.Local.BaseURL, Model: cfg.Local.Model}, nil
	case KindOpenAI:
		if !validCredential(cfg.OpenAI.APIKey) {
			return Descriptor{}, fmt.Errorf("api key not set")
		}
		return Descriptor{Kind: KindOpenAI, Endpoint: cfg.OpenAI.BaseURL, Model: cfg.OpenAI.Model}, nil
	case KindGemini:
		if !validCredential(cfg.Gemini.APIKey) {
			return Descriptor{}, fmt.Errorf("api key not set")
		}
		endpoint := cfg.Gemini.BaseURL
		if endpoint == "" {
			endpoint = geminiEndpoint
		}
		return Descriptor{Kind: KindGemini, Endpoint: endpoint, Model: cfg.Gemini.Model}, nil
	default:
		return Descriptor{}, fmt.Errorf("unsupported provider %q", kind)
	}
}

// validCredential rejects empty keys and template placeholders such as
// "your-openai-api-key-here".
func validCredential(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	return !(strings.HasPrefix(k, "your-") && strings.HasSuffix(k, "-here"))
}
