package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flemzord/chatrelay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.LLM.APIKey = "sk-test"
	// Port 0 keeps parallel tests from colliding on a fixed bind.
	cfg.Gateway.Bind = "127.0.0.1:0"
	return cfg
}

func TestBuildComponents_MemoryBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	c, err := buildComponents(cfg, buildLogger(cfg.Log, bytes.NewBuffer(nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if c.relay == nil || c.gateway == nil || c.scheduler == nil || c.metrics == nil {
		t.Fatal("all components should be wired")
	}
	if c.closeStore != nil {
		t.Error("memory backend needs no store closer")
	}
}

func TestBuildComponents_SQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.History.Backend = "sqlite"
	cfg.History.Path = filepath.Join(t.TempDir(), "relay.db")

	c, err := buildComponents(cfg, buildLogger(cfg.Log, bytes.NewBuffer(nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.closeStore == nil {
		t.Fatal("sqlite backend should expose a store closer")
	}
	t.Cleanup(func() { _ = c.closeStore() })

	// The purge job is registered only when rows can actually be purged.
	if err := c.scheduler.Start(); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	if err := c.scheduler.Stop(context.Background()); err != nil {
		t.Fatalf("scheduler stop: %v", err)
	}
}

func TestBuildComponents_UnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.History.Backend = "postgres"

	if _, err := buildComponents(cfg, buildLogger(cfg.Log, bytes.NewBuffer(nil))); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBuildLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := buildLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if bytes.Contains([]byte(out), []byte("hidden")) {
		t.Error("info record should be filtered at warn level")
	}
	if !bytes.Contains([]byte(out), []byte(`"msg":"visible"`)) {
		t.Errorf("warn record should be JSON encoded, got %q", out)
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	// Nothing exists yet.
	if _, err := ResolveConfigPath(); err == nil {
		// A chatrelay.yaml in the working directory would satisfy the
		// search; only fail when it truly cannot exist.
		if _, statErr := os.Stat("chatrelay.yaml"); statErr != nil {
			t.Error("expected error when no config file exists")
		}
	}

	path := filepath.Join(dir, "chatrelay", "chatrelay.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("llm:\n  api_key: sk-test\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	resolved, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
}
