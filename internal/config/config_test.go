package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dailydigest/internal/providers/router"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{"APP_MODE", "LLM_PROVIDER", "DB_DSN", "SCHEDULER_TIMEZONE", "OPENAI_API_KEY", "REDIS_ADDR", "LLM_TIMEOUT"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppMode != ModeAll || !cfg.RunsAPI() || !cfg.RunsScheduler() {
		t.Fatalf("unexpected mode %q", cfg.AppMode)
	}
	if cfg.LLM.Provider != router.KindAuto || cfg.LLM.Timeout != 30*time.Second || cfg.LLM.ProbeTimeout != 2*time.Second {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.DSN != "data/dailydigest.db" {
		t.Fatalf("unexpected db config %+v", cfg.DB)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be off by default")
	}
	if cfg.Server.ListenAddr != ":5001" || cfg.Feed.MaxItems != 15 || cfg.Defaults.Topic != "trending" {
		t.Fatalf("unexpected defaults %+v %+v %+v", cfg.Server, cfg.Feed, cfg.Defaults)
	}
	if cfg.Scheduler.Location == nil {
		t.Fatalf("scheduler location not resolved")
	}
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("APP_MODE", "api")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SCHEDULER_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppMode != ModeAPI || cfg.RunsScheduler() {
		t.Fatalf("unexpected mode %q", cfg.AppMode)
	}
	if cfg.LLM.Provider != router.KindGemini || cfg.LLM.Timeout != 5*time.Second {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if !cfg.Redis.Enabled() || cfg.Scheduler.Location != time.UTC {
		t.Fatalf("unexpected redis/scheduler config")
	}
	rc := cfg.LLM.RouterConfig()
	if rc.Provider != router.KindGemini || rc.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected router config %+v", rc)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		key, value string
		want       error
	}{
		{"LLM_PROVIDER", "anthropic", ErrInvalidProvider},
		{"SCHEDULER_TIMEZONE", "Mars/Olympus", ErrInvalidTimezone},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			isolate(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	isolate(t)
	t.Setenv("APP_MODE", "WEBHOOK")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown APP_MODE")
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("OPENAI_API_KEY=sk-from-file\nLLM_PROVIDER=openai\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	// godotenv never overrides variables that are already set
	t.Setenv("LLM_PROVIDER", "local")
	os.Unsetenv("OPENAI_API_KEY")
	t.Cleanup(func() { os.Unsetenv("OPENAI_API_KEY") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-from-file" {
		t.Fatalf("expected key from env file, got %q", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.LLM.Provider != router.KindLocal {
		t.Fatalf("process env should win over env file, got %q", cfg.LLM.Provider)
	}
}
