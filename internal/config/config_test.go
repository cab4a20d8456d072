package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_RELAY_KEY", "sk-from-env")

	path := writeConfig(t, `
llm:
  api_key: "${TEST_RELAY_KEY}"
  model: "${TEST_RELAY_MODEL:-gpt-4o-mini}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want value from environment", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want fallback default", cfg.LLM.Model)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
llm:
  api_key: "${DEFINITELY_NOT_SET_ANYWHERE_12345}"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unresolved variable")
	}
	if !strings.Contains(err.Error(), "DEFINITELY_NOT_SET_ANYWHERE_12345") {
		t.Errorf("error %q should name the unresolved variable", err)
	}
}

func TestLoad_ParsesDurations(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
llm:
  api_key: "sk-test"
  timeout: "90s"
  retry_delay: "250ms"
history:
  cache_ttl: "10m"
shutdown_grace: "1m30s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := cfg.LLM.Timeout.Std(); got != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", got)
	}
	if got := cfg.LLM.RetryDelay.Std(); got != 250*time.Millisecond {
		t.Errorf("retry_delay = %v, want 250ms", got)
	}
	if got := cfg.History.CacheTTL.Std(); got != 10*time.Minute {
		t.Errorf("cache_ttl = %v, want 10m", got)
	}
	if got := cfg.ShutdownGrace.Std(); got != 90*time.Second {
		t.Errorf("shutdown_grace = %v, want 1m30s", got)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
llm:
  timeout: "soon"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
llm:
  api_key: "sk-test"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base_url default = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.RetryAttempts != 3 {
		t.Errorf("retry_attempts default = %d", cfg.LLM.RetryAttempts)
	}
	if cfg.History.Backend != "memory" {
		t.Errorf("backend default = %q", cfg.History.Backend)
	}
	if cfg.History.MaxHistoryMessages != 100 {
		t.Errorf("max_history_messages default = %d", cfg.History.MaxHistoryMessages)
	}
	if cfg.Delivery.MaxMessageLength != 4096 {
		t.Errorf("max_message_length default = %d", cfg.Delivery.MaxMessageLength)
	}
	if cfg.Gateway.Bind != "127.0.0.1:8080" {
		t.Errorf("bind default = %q", cfg.Gateway.Bind)
	}
	if cfg.Maintenance.PurgeSchedule != "0 3 * * *" {
		t.Errorf("purge_schedule default = %q", cfg.Maintenance.PurgeSchedule)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults = %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.ShutdownGrace.Std() != 30*time.Second {
		t.Errorf("shutdown_grace default = %v", cfg.ShutdownGrace.Std())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.LLM.APIKey = "sk-test"
		return cfg
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.LLM.APIKey = "" },
			wantSub: "llm.api_key",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.LLM.Temperature = 3.5 },
			wantSub: "llm.temperature",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.History.Backend = "postgres" },
			wantSub: "history.backend",
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.History.Backend = "sqlite"
				c.History.Path = ""
			},
			wantSub: "history.path",
		},
		{
			name: "context window larger than retention",
			mutate: func(c *Config) {
				c.History.MaxHistoryMessages = 10
				c.History.MaxContextMessages = 20
			},
			wantSub: "max_context_messages",
		},
		{
			name:    "bad bind address",
			mutate:  func(c *Config) { c.Gateway.Bind = "not a bind" },
			wantSub: "gateway.bind",
		},
		{
			name:    "bad purge schedule",
			mutate:  func(c *Config) { c.Maintenance.PurgeSchedule = "whenever" },
			wantSub: "purge_schedule",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantSub: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantSub: "log.format",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.History.Backend = "postgres"
	cfg.Log.Level = "verbose"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, sub := range []string{"llm.api_key", "history.backend", "log.level"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("error should mention %q, got %q", sub, err)
		}
	}
}

func TestDefaultYAMLTemplate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := writeConfig(t, DefaultYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("template should validate: %v", err)
	}
	if cfg.History.Backend != "sqlite" || cfg.History.Path != "chatrelay.db" {
		t.Errorf("template history = %q/%q", cfg.History.Backend, cfg.History.Path)
	}
}
