package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/flemzord/chatrelay/internal/config"
	"github.com/flemzord/chatrelay/internal/gateway"
	"github.com/flemzord/chatrelay/internal/history"
	"github.com/flemzord/chatrelay/internal/history/sqlite"
	"github.com/flemzord/chatrelay/internal/llm"
	"github.com/flemzord/chatrelay/internal/llm/openai"
	"github.com/flemzord/chatrelay/internal/maintenance"
	"github.com/flemzord/chatrelay/internal/metrics"
	"github.com/flemzord/chatrelay/internal/relay"
	"github.com/flemzord/chatrelay/internal/stats"
)

// components holds every wired service for the run loop.
type components struct {
	relay     *relay.Relay
	gateway   *gateway.Gateway
	scheduler *maintenance.Scheduler
	metrics   *metrics.Metrics

	// closeStore is nil for the in-memory backend.
	closeStore func() error
}

// buildLogger constructs the process logger from the log section.
func buildLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildComponents wires the full service graph from a validated config.
func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{metrics: metrics.New()}

	// History store and service.
	var store history.Store
	switch cfg.History.Backend {
	case "sqlite":
		s, err := sqlite.Open(cfg.History.Path, cfg.History.MaxHistoryMessages)
		if err != nil {
			return nil, fmt.Errorf("app: opening history store: %w", err)
		}
		store = s
		c.closeStore = s.Close
	case "memory":
		store = history.NewMemoryStore(cfg.History.MaxHistoryMessages)
	default:
		return nil, fmt.Errorf("app: unknown history backend %q", cfg.History.Backend)
	}

	service := history.NewService(store, history.ServiceConfig{
		SaveRetryAttempts: cfg.History.SaveRetryAttempts,
		SaveRetryDelay:    cfg.History.SaveRetryDelay.Std(),
		CacheTTL:          cfg.History.CacheTTL.Std(),
		CacheMaxSize:      cfg.History.CacheMaxSize,
	}, history.WithLogger(logger))

	// Completion endpoint and request pipeline.
	endpoint, err := openai.New(openai.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout.Std().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: building endpoint: %w", err)
	}

	client := llm.NewClient(endpoint, llm.Config{
		Model:         cfg.LLM.Model,
		FallbackModel: cfg.LLM.FallbackModel,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		RetryAttempts: cfg.LLM.RetryAttempts,
		RetryDelay:    cfg.LLM.RetryDelay.Std(),
	},
		llm.WithLogger(logger),
		llm.WithUsageRecorder(c.metrics),
	)

	// Stats collector: real aggregates need the SQL backend.
	var collector stats.Collector
	if s, ok := store.(*sqlite.Store); ok {
		collector = stats.NewDBCollector(s.DB(), stats.DBConfig{}, stats.WithLogger(logger))
	} else {
		collector = stats.NewMockCollector(1)
	}

	// The hub is built first so the relay can publish into it and the
	// gateway can serve it.
	hub := gateway.NewHub(logger)

	c.relay = relay.New(service, client, relay.Config{
		DefaultSystemPrompt: cfg.History.DefaultSystemPrompt,
		MaxContextMessages:  cfg.History.MaxContextMessages,
		MaxMessageLength:    cfg.Delivery.MaxMessageLength,
		ChunkDelay:          cfg.Delivery.ChunkDelay.Std(),
	},
		relay.WithLogger(logger),
		relay.WithEventSink(c.metrics),
		relay.WithEventSink(hub),
	)

	gw, err := gateway.New(gateway.Config{
		Bind: cfg.Gateway.Bind,
		Auth: gateway.AuthConfig{BearerToken: cfg.Gateway.Auth.BearerToken},
		Rate: gateway.RateConfig{RequestsPerMin: cfg.Gateway.Rate.RequestsPerMin},
	}, c.relay, collector,
		gateway.WithLogger(logger),
		gateway.WithMetricsGatherer(c.metrics.Registry()),
		gateway.WithHub(hub),
	)
	if err != nil {
		return nil, err
	}
	c.gateway = gw

	// Housekeeping jobs.
	c.scheduler = maintenance.NewScheduler(logger)
	if err := c.scheduler.RegisterJob(&maintenance.SweepJob{
		Cache:        service,
		Logger:       logger,
		ScheduleExpr: cfg.Maintenance.SweepSchedule,
	}); err != nil {
		return nil, err
	}
	if s, ok := store.(*sqlite.Store); ok {
		if err := c.scheduler.RegisterJob(&maintenance.PurgeJob{
			Store:        s,
			KeepFor:      time.Duration(cfg.Maintenance.PurgeAfterDays) * 24 * time.Hour,
			Logger:       logger,
			ScheduleExpr: cfg.Maintenance.PurgeSchedule,
		}); err != nil {
			return nil, err
		}
	}

	return c, nil
}
