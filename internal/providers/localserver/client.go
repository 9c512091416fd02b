package localserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dailydigest/internal/providers"
)

type Config struct {
	BaseURL    string
	Model      string
	ChatPath   string
	HealthPath string
	HTTPClient *http.Client
}

// Client calls a model server on the local network (Ollama, LM Studio,
// llama.cpp server and similar).
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/v1/chat/completions"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/v1/models"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	endpoint, err := joinURL(c.cfg.BaseURL, c.cfg.ChatPath)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	payload := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   false,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("marshal local payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("build local request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("local request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("read local response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providers.ChatResponse{}, fmt.Errorf("local server status %d", resp.StatusCode)
	}

	reply, err := ParseResponse(b)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.ChatResponse{Text: reply.Text}, nil
}

// Probe is the liveness check: a GET on the health path that must answer 2xx.
func Probe(ctx context.Context, client *http.Client, baseURL, healthPath string) error {
	if strings.TrimSpace(baseURL) == "" {
		return fmt.Errorf("local server url is not configured")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if healthPath == "" {
		healthPath = "/v1/models"
	}
	endpoint, err := joinURL(baseURL, healthPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}

func joinURL(base, path string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("local server url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse local server url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return u.String(), nil
}
