// Package relay orchestrates one conversational exchange: load history,
// call the model, persist the updated conversation, and deliver the reply
// in chunks.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/chatrelay/internal/history"
	"github.com/flemzord/chatrelay/pkg/splitter"
)

// Deliverer sends one chunk of reply text to the user. The transport
// owns addressing; the relay only sequences chunks.
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, text string) error

func (f DelivererFunc) Deliver(ctx context.Context, text string) error { return f(ctx, text) }

// Generator produces the model reply for a conversation.
type Generator interface {
	Generate(ctx context.Context, userID int64, turns []history.Turn) (string, error)
}

// History is the storage surface the relay depends on. Reads degrade to
// empty defaults inside the implementation; writes return an error after
// their retry policy is exhausted.
type History interface {
	LoadRecent(ctx context.Context, userID int64, limit int) []history.Turn
	Save(ctx context.Context, userID int64, turns []history.Turn) error
	Clear(ctx context.Context, userID int64) error
	SystemPrompt(ctx context.Context, userID int64) (string, bool)
	SetSystemPrompt(ctx context.Context, userID int64, prompt string) error
	DialogInfo(ctx context.Context, userID int64) history.DialogInfo
}

// Event describes a finished exchange for observers.
type Event struct {
	UserID    int64  `json:"user_id"`
	Outcome   string `json:"outcome"`
	Chunks    int    `json:"chunks"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// EventSink receives exchange events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Config tunes the relay.
type Config struct {
	// DefaultSystemPrompt seeds new conversations without a custom prompt.
	DefaultSystemPrompt string

	// MaxContextMessages bounds how many recent turns are sent to the
	// model. Zero or negative loads the full history.
	MaxContextMessages int

	// MaxMessageLength is the per-chunk delivery limit in characters.
	MaxMessageLength int

	// ChunkDelay paces delivery between chunks of a multi-part reply.
	ChunkDelay time.Duration
}

func (c *Config) defaults() {
	if c.DefaultSystemPrompt == "" {
		c.DefaultSystemPrompt = "You are a helpful assistant."
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = splitter.DefaultMaxLength
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
}

// Relay drives the per-message exchange machine and exposes the per-user
// command surface.
type Relay struct {
	history   History
	generator Generator
	cfg       Config
	logger    *slog.Logger
	sinks     []EventSink
	sleep     func(ctx context.Context, d time.Duration) error
	wg        sync.WaitGroup
}

// Option configures optional Relay behaviour.
type Option func(*Relay)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEventSink registers an exchange event observer. May be used more
// than once.
func WithEventSink(s EventSink) Option {
	return func(r *Relay) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithSleep replaces the chunk pacing delay function. Tests use this to
// capture delays without waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Relay) { r.sleep = fn }
}

// New creates a Relay.
func New(h History, g Generator, cfg Config, opts ...Option) *Relay {
	cfg.defaults()

	r := &Relay{
		history:   h,
		generator: g,
		cfg:       cfg,
		logger:    slog.New(nopHandler{}),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleMessage runs one exchange for the user's inbound text. On model
// or storage failure a category message is delivered to the user, no
// turns are persisted, and the returned error is a *Error carrying the
// category. Delivery failures are returned as-is.
func (r *Relay) HandleMessage(ctx context.Context, userID int64, text string, d Deliverer) error {
	r.wg.Add(1)
	defer r.wg.Done()

	start := time.Now()
	r.logger.Info("message received", "user_id", userID, "chars", len([]rune(text)))

	turns, err := r.loadOrInit(ctx, userID)
	if err != nil {
		return r.fail(ctx, userID, CategoryGeneric, err, d, start)
	}

	turns = append(turns, history.Turn{
		Role:      history.RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	})

	reply, err := r.generator.Generate(ctx, userID, turns)
	if err != nil {
		return r.fail(ctx, userID, categorize(err), err, d, start)
	}

	turns = append(turns, history.Turn{
		Role:      history.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	})

	if err := r.history.Save(ctx, userID, turns); err != nil {
		return r.fail(ctx, userID, CategoryGeneric, err, d, start)
	}

	chunks, err := r.deliver(ctx, userID, reply, d)
	if err != nil {
		return fmt.Errorf("relay: deliver: %w", err)
	}

	r.publish(Event{
		UserID:    userID,
		Outcome:   "ok",
		Chunks:    chunks,
		ElapsedMS: time.Since(start).Milliseconds(),
	})
	r.logger.Info("exchange completed",
		"user_id", userID,
		"chunks", chunks,
		"elapsed", time.Since(start),
	)
	return nil
}

// loadOrInit returns the user's recent turns, seeding a new conversation
// with the custom or default system prompt when history is empty. A new
// default prompt is persisted so later exchanges find it in the store.
func (r *Relay) loadOrInit(ctx context.Context, userID int64) ([]history.Turn, error) {
	turns := r.history.LoadRecent(ctx, userID, r.cfg.MaxContextMessages)
	if len(turns) > 0 {
		return turns, nil
	}

	prompt, custom := r.history.SystemPrompt(ctx, userID)
	if custom {
		r.logger.Debug("new dialog with custom prompt", "user_id", userID)
		return []history.Turn{{
			Role:      history.RoleSystem,
			Content:   prompt,
			CreatedAt: time.Now().UTC(),
		}}, nil
	}

	prompt = r.cfg.DefaultSystemPrompt
	if err := r.history.SetSystemPrompt(ctx, userID, prompt); err != nil {
		return nil, fmt.Errorf("relay: initialize dialog: %w", err)
	}
	r.logger.Debug("new dialog with default prompt", "user_id", userID)

	// The store seeded the system turn; reload so its ID is stable. A
	// degraded read still gets a usable in-memory conversation.
	turns = r.history.LoadRecent(ctx, userID, r.cfg.MaxContextMessages)
	if len(turns) == 0 {
		turns = []history.Turn{{
			Role:      history.RoleSystem,
			Content:   prompt,
			CreatedAt: time.Now().UTC(),
		}}
	}
	return turns, nil
}

// deliver splits the reply and sends it. Multi-part replies carry a
// "Part i/N" prefix on every chunk and are paced by ChunkDelay.
func (r *Relay) deliver(ctx context.Context, userID int64, reply string, d Deliverer) (int, error) {
	parts := splitter.Split(reply, r.cfg.MaxMessageLength)

	if len(parts) == 1 {
		return 1, d.Deliver(ctx, parts[0])
	}

	r.logger.Info("splitting long reply",
		"user_id", userID,
		"parts", len(parts),
		"chars", len([]rune(reply)),
	)

	for i, part := range parts {
		msg := fmt.Sprintf("Part %d/%d\n\n%s", i+1, len(parts), part)
		if err := d.Deliver(ctx, msg); err != nil {
			return i, err
		}
		if i < len(parts)-1 && r.cfg.ChunkDelay > 0 {
			if err := r.sleep(ctx, r.cfg.ChunkDelay); err != nil {
				return i + 1, err
			}
		}
	}
	return len(parts), nil
}

// fail delivers the category message and returns the typed exchange
// error. The failed exchange is never persisted.
func (r *Relay) fail(ctx context.Context, userID int64, cat Category, cause error, d Deliverer, start time.Time) error {
	r.logger.Error("exchange failed",
		"user_id", userID,
		"category", cat.String(),
		"error", cause,
	)

	if err := d.Deliver(ctx, cat.UserMessage()); err != nil {
		r.logger.Warn("failure notice undelivered", "user_id", userID, "error", err)
	}

	r.publish(Event{
		UserID:    userID,
		Outcome:   cat.String(),
		ElapsedMS: time.Since(start).Milliseconds(),
	})
	return &Error{Category: cat, Err: cause}
}

func (r *Relay) publish(e Event) {
	for _, s := range r.sinks {
		s.Publish(e)
	}
}

// Reset clears the user's conversation.
func (r *Relay) Reset(ctx context.Context, userID int64) error {
	return r.history.Clear(ctx, userID)
}

// SetPrompt replaces the user's system prompt and resets the dialog
// around it. An empty prompt restores the configured default.
func (r *Relay) SetPrompt(ctx context.Context, userID int64, prompt string) error {
	if prompt == "" {
		prompt = r.cfg.DefaultSystemPrompt
	}
	return r.history.SetSystemPrompt(ctx, userID, prompt)
}

// Info summarises the user's conversation.
func (r *Relay) Info(ctx context.Context, userID int64) history.DialogInfo {
	return r.history.DialogInfo(ctx, userID)
}

// Drain blocks until all in-flight exchanges finish or ctx expires.
func (r *Relay) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
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
