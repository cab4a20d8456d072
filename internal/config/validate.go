package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the structural validity of a Config. All problems are
// reported at once so the operator fixes the file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("config: llm.api_key is required"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("config: llm.temperature %v out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("config: llm.max_tokens must not be negative, got %d", cfg.LLM.MaxTokens))
	}

	switch cfg.History.Backend {
	case "memory":
	case "sqlite":
		if cfg.History.Path == "" {
			errs = append(errs, errors.New("config: history.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown history.backend %q (supported: memory, sqlite)", cfg.History.Backend))
	}

	if cfg.History.MaxContextMessages > cfg.History.MaxHistoryMessages {
		errs = append(errs, fmt.Errorf(
			"config: history.max_context_messages (%d) exceeds history.max_history_messages (%d)",
			cfg.History.MaxContextMessages, cfg.History.MaxHistoryMessages,
		))
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.Gateway.Bind); err != nil {
		errs = append(errs, fmt.Errorf("config: invalid gateway.bind %q: %w", cfg.Gateway.Bind, err))
	}

	if _, err := cronParser.Parse(cfg.Maintenance.PurgeSchedule); err != nil {
		errs = append(errs, fmt.Errorf("config: invalid maintenance.purge_schedule %q: %w", cfg.Maintenance.PurgeSchedule, err))
	}
	if _, err := cronParser.Parse(cfg.Maintenance.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("config: invalid maintenance.sweep_schedule %q: %w", cfg.Maintenance.SweepSchedule, err))
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log.level %q (supported: debug, info, warn, error)", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log.format %q (supported: text, json)", cfg.Log.Format))
	}

	return errors.Join(errs...)
}
