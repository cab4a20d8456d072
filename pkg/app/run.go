// Package app wires configuration into the running relay daemon and
// owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/chatrelay/internal/config"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string
}

// Run loads configuration, starts the gateway and the housekeeping
// scheduler, and blocks until a shutdown signal arrives. Shutdown waits
// for in-flight exchanges up to the configured grace period, then closes
// everything down.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := buildLogger(cfg.Log, os.Stderr)
	logger.Info("chatrelay starting",
		"version", params.Version,
		"config", cfgPath,
		"backend", cfg.History.Backend,
	)

	c, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if c.closeStore != nil {
			if err := c.closeStore(); err != nil {
				logger.Error("closing history store", "error", err)
			}
		}
	}()

	ctx := context.Background()

	if err := c.gateway.Start(ctx); err != nil {
		return err
	}
	if err := c.scheduler.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	// Stop taking new work first, then wait out in-flight exchanges.
	if err := c.gateway.Stop(ctx); err != nil {
		logger.Error("gateway shutdown", "error", err)
	}
	if err := c.scheduler.Stop(ctx); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownGrace.Std())
	defer cancel()
	if err := c.relay.Drain(drainCtx); err != nil {
		logger.Warn("exchanges still in flight after grace period", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/chatrelay/chatrelay.yaml →
// ~/.config/chatrelay/chatrelay.yaml → ./chatrelay.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "chatrelay", "chatrelay.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chatrelay", "chatrelay.yaml"))
	}

	candidates = append(candidates, "chatrelay.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
