package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/chatrelay/internal/history"
)

// UsageRecorder observes every completion attempt. Implementations must
// tolerate a zero Usage on failed attempts.
type UsageRecorder interface {
	RecordAttempt(model string, usage Usage, latency time.Duration, err error)
}

// nopUsage discards all observations.
type nopUsage struct{}

func (nopUsage) RecordAttempt(string, Usage, time.Duration, error) {}

// Config tunes the request pipeline.
type Config struct {
	// Model is the primary model identifier.
	Model string

	// FallbackModel, when non-empty, enables failover after the primary
	// exhausts retries on an eligible error class.
	FallbackModel string

	Temperature float64
	MaxTokens   int

	// RetryAttempts is the number of tries per model. Minimum 1.
	RetryAttempts int

	// RetryDelay is the backoff base: attempt n (0-indexed) waits
	// RetryDelay * 2^n before the next try.
	RetryDelay time.Duration
}

func (c *Config) defaults() {
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// Client orchestrates completion requests: per-model retry loop with
// exponential backoff, then failover to the fallback model when the
// primary's terminal error justifies it.
type Client struct {
	endpoint Endpoint
	cfg      Config
	logger   *slog.Logger
	usage    UsageRecorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures optional Client behaviour.
type Option func(*Client)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUsageRecorder injects a metrics collaborator.
func WithUsageRecorder(u UsageRecorder) Option {
	return func(c *Client) {
		if u != nil {
			c.usage = u
		}
	}
}

// WithSleep replaces the backoff delay function. Tests use this to
// capture delays without waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a Client talking to endpoint.
func NewClient(endpoint Endpoint, cfg Config, opts ...Option) *Client {
	cfg.defaults()

	c := &Client{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   slog.New(nopHandler{}),
		usage:    nopUsage{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends the conversation to the model and returns the reply
// text. Turns are stripped to role and content before leaving the
// process. An empty reply is valid. After retries and any fallback are
// exhausted, the terminal error wraps ErrExhausted plus the original
// classification sentinel.
func (c *Client) Generate(ctx context.Context, userID int64, turns []history.Turn) (string, error) {
	msgs := toMessages(turns)

	c.logger.Info("completion request",
		"user_id", userID,
		"model", c.cfg.Model,
		"messages", len(msgs),
	)

	content, primaryErr := c.tryModel(ctx, c.cfg.Model, msgs, userID)
	if primaryErr == nil {
		return content, nil
	}

	if !ShouldFallback(primaryErr, c.cfg.FallbackModel != "") {
		return "", primaryErr
	}

	c.logger.Warn("primary model exhausted, failing over",
		"user_id", userID,
		"model", c.cfg.Model,
		"fallback_model", c.cfg.FallbackModel,
		"error", primaryErr,
	)

	content, fallbackErr := c.tryModel(ctx, c.cfg.FallbackModel, msgs, userID)
	if fallbackErr == nil {
		return content, nil
	}

	return "", fmt.Errorf("%w: primary: %w; secondary: %w", ErrExhausted, primaryErr, fallbackErr)
}

// tryModel runs the bounded retry loop against one model. Fatal errors
// abort immediately; retryable errors back off exponentially, except
// after the final attempt.
func (c *Client) tryModel(ctx context.Context, model string, msgs []Message, userID int64) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := time.Now()
		resp, err := c.endpoint.Complete(ctx, Request{
			Model:       model,
			Messages:    msgs,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
		latency := time.Since(start)

		c.usage.RecordAttempt(model, resp.Usage, latency, err)

		if err == nil {
			c.logger.Info("completion succeeded",
				"user_id", userID,
				"model", model,
				"attempt", attempt+1,
				"prompt_tokens", resp.Usage.PromptTokens,
				"completion_tokens", resp.Usage.CompletionTokens,
				"total_tokens", resp.Usage.TotalTokens,
				"latency", latency,
			)
			return resp.Content, nil
		}

		class := Classify(err)
		if class == ClassFatal {
			return "", fmt.Errorf("llm: completion failed: %w", err)
		}

		lastErr = err
		c.logger.Warn("completion attempt failed",
			"user_id", userID,
			"model", model,
			"attempt", attempt+1,
			"attempts", c.cfg.RetryAttempts,
			"class", class.String(),
			"latency", latency,
			"error", err,
		)

		if attempt < c.cfg.RetryAttempts-1 {
			if err := c.sleep(ctx, c.Backoff(attempt)); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("%w: model exhausted after %d attempts: %w", ErrExhausted, c.cfg.RetryAttempts, lastErr)
}

// Backoff returns the deterministic delay after the given 0-indexed
// failed attempt: RetryDelay * 2^attempt.
func (c *Client) Backoff(attempt int) time.Duration {
	return c.cfg.RetryDelay * (1 << attempt)
}

// toMessages strips turns down to the wire format.
func toMessages(turns []history.Turn) []Message {
	msgs := make([]Message, len(turns))
	for i, t := range turns {
		msgs[i] = Message{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nopHandler discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
