// Package metrics exposes Prometheus instrumentation for the relay
// pipeline: exchange outcomes, model attempts, token usage, and latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/chatrelay/internal/llm"
	"github.com/flemzord/chatrelay/internal/relay"
)

// Metrics owns the registry and all collectors. It observes the pipeline
// through the llm.UsageRecorder and relay.EventSink hooks.
type Metrics struct {
	registry *prometheus.Registry

	exchanges       *prometheus.CounterVec
	exchangeSeconds *prometheus.HistogramVec
	chunks          prometheus.Counter

	attempts       *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	attemptSeconds *prometheus.HistogramVec
}

var (
	_ llm.UsageRecorder = (*Metrics)(nil)
	_ relay.EventSink   = (*Metrics)(nil)
)

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_exchanges_total",
			Help: "Completed exchanges by outcome.",
		}, []string{"outcome"}),

		exchangeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_exchange_duration_seconds",
			Help:    "End-to-end exchange duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"outcome"}),

		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_delivered_chunks_total",
			Help: "Reply chunks delivered to users.",
		}),

		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_llm_attempts_total",
			Help: "Model completion attempts by model and outcome.",
		}, []string{"model", "outcome"}),

		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_llm_tokens_total",
			Help: "Tokens consumed by kind.",
		}, []string{"kind"}),

		attemptSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_llm_attempt_duration_seconds",
			Help:    "Per-attempt completion latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"model"}),
	}

	m.registry.MustRegister(
		m.exchanges,
		m.exchangeSeconds,
		m.chunks,
		m.attempts,
		m.tokens,
		m.attemptSeconds,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAttempt observes one model completion attempt.
func (m *Metrics) RecordAttempt(model string, usage llm.Usage, latency time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = llm.Classify(err).String()
	}
	m.attempts.WithLabelValues(model, outcome).Inc()
	m.attemptSeconds.WithLabelValues(model).Observe(latency.Seconds())

	if usage.PromptTokens > 0 {
		m.tokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.tokens.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
	}
}

// Publish observes one finished exchange.
func (m *Metrics) Publish(e relay.Event) {
	m.exchanges.WithLabelValues(e.Outcome).Inc()
	m.exchangeSeconds.WithLabelValues(e.Outcome).Observe(float64(e.ElapsedMS) / 1000)
	if e.Chunks > 0 {
		m.chunks.Add(float64(e.Chunks))
	}
}
