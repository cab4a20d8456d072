// Package gateway exposes the HTTP surface of the relay: health and
// metrics probes, the stats API, a dev/test message endpoint, and a
// websocket event feed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/flemzord/chatrelay/internal/history"
	"github.com/flemzord/chatrelay/internal/relay"
	"github.com/flemzord/chatrelay/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

// Exchanger is the relay surface the gateway depends on.
type Exchanger interface {
	HandleMessage(ctx context.Context, userID int64, text string, d relay.Deliverer) error
	Info(ctx context.Context, userID int64) history.DialogInfo
	Reset(ctx context.Context, userID int64) error
	SetPrompt(ctx context.Context, userID int64, prompt string) error
}

// Gateway is the HTTP server wiring routes to the relay, the stats
// collector, and the metrics registry.
type Gateway struct {
	cfg       Config
	logger    *slog.Logger
	exchanger Exchanger
	collector stats.Collector
	gatherer  prometheus.Gatherer
	hub       *Hub
	server    *http.Server
}

// Option configures optional Gateway behaviour.
type Option func(*Gateway)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetricsGatherer wires the /metrics endpoint to a registry.
func WithMetricsGatherer(gt prometheus.Gatherer) Option {
	return func(g *Gateway) { g.gatherer = gt }
}

// WithHub serves an externally created event hub instead of building one.
// Callers use this when the hub must exist before the exchanger does.
func WithHub(h *Hub) Option {
	return func(g *Gateway) {
		if h != nil {
			g.hub = h
		}
	}
}

// New creates a Gateway. Unless WithHub supplies one, the hub is created
// here so callers can register it as a relay event sink via Hub().
func New(cfg Config, ex Exchanger, collector stats.Collector, opts ...Option) (*Gateway, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    slog.New(nopHandler{}),
		exchanger: ex,
		collector: collector,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.hub == nil {
		g.hub = NewHub(g.logger)
	}
	return g, nil
}

// Hub returns the websocket event hub for event sink registration.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Start listens and serves in the background. It returns once the
// listener is bound so callers see bind errors synchronously.
func (g *Gateway) Start(ctx context.Context) error {
	g.server = &http.Server{
		Addr:         g.cfg.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.cfg.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.cfg.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.cfg.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
