package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/chatrelay/internal/cache"
)

// promptEntry is a cached system prompt lookup. Caching the "no override"
// result explicitly avoids repeated store reads for default-prompt users.
type promptEntry struct {
	prompt string
	custom bool
}

// ServiceConfig tunes the Service wrapper.
type ServiceConfig struct {
	// SaveRetryAttempts is how many times write operations are tried
	// before the failure propagates. Minimum 1.
	SaveRetryAttempts int

	// SaveRetryDelay is the fixed pause between write attempts.
	SaveRetryDelay time.Duration

	// CacheTTL bounds the lifetime of prompt cache entries.
	CacheTTL time.Duration

	// CacheMaxSize bounds the prompt cache entry count.
	CacheMaxSize int
}

func (c *ServiceConfig) defaults() {
	if c.SaveRetryAttempts < 1 {
		c.SaveRetryAttempts = 3
	}
	if c.SaveRetryDelay <= 0 {
		c.SaveRetryDelay = 500 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = 1000
	}
}

// Service wraps a Store with the prompt cache, write retries, and
// read-path degradation. Reads never fail: they fall back to empty
// defaults so a user can always start a conversation. Writes are retried
// and then propagate, so data loss is never silent.
type Service struct {
	store  Store
	cache  *cache.Cache[int64, promptEntry]
	cfg    ServiceConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// ServiceOption configures optional Service behaviour.
type ServiceOption func(*Service)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSleep replaces the retry delay function. Tests use this to avoid
// real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(s *Service) { s.sleep = fn }
}

// NewService wraps store with caching and retry policy.
func NewService(store Store, cfg ServiceConfig, opts ...ServiceOption) *Service {
	cfg.defaults()

	s := &Service{
		store:  store,
		cache:  cache.New[int64, promptEntry](cfg.CacheMaxSize, cfg.CacheTTL),
		cfg:    cfg,
		logger: slog.New(nopHandler{}),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadFull returns all active turns, degrading to an empty slice when the
// store fails.
func (s *Service) LoadFull(ctx context.Context, userID int64) []Turn {
	turns, err := s.store.LoadFull(ctx, userID)
	if err != nil {
		s.logger.Warn("history load failed, starting empty", "user_id", userID, "error", err)
		return []Turn{}
	}
	return turns
}

// LoadRecent returns the most recent limit active turns, degrading to an
// empty slice when the store fails.
func (s *Service) LoadRecent(ctx context.Context, userID int64, limit int) []Turn {
	turns, err := s.store.LoadRecent(ctx, userID, limit)
	if err != nil {
		s.logger.Warn("history load failed, starting empty", "user_id", userID, "error", err)
		return []Turn{}
	}
	return turns
}

// Save upserts turns with retention trimming, retrying transient failures.
// The final error propagates after all attempts are exhausted.
func (s *Service) Save(ctx context.Context, userID int64, turns []Turn) error {
	return s.retryWrite(ctx, "save", userID, func() error {
		return s.store.Save(ctx, userID, turns)
	})
}

// Clear soft-deletes the user's history, retrying transient failures.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	return s.retryWrite(ctx, "clear", userID, func() error {
		return s.store.Clear(ctx, userID)
	})
}

// SystemPrompt returns the user's custom prompt and whether one is set.
// Results, including the "no override" case, are cached for CacheTTL.
// Store failures degrade to "no custom prompt".
func (s *Service) SystemPrompt(ctx context.Context, userID int64) (string, bool) {
	if e, ok := s.cache.Get(userID); ok {
		return e.prompt, e.custom
	}

	prompt, custom, err := s.store.SystemPrompt(ctx, userID)
	if err != nil {
		s.logger.Warn("system prompt lookup failed, using default", "user_id", userID, "error", err)
		return "", false
	}

	s.cache.Set(userID, promptEntry{prompt: prompt, custom: custom})
	return prompt, custom
}

// SetSystemPrompt resets the conversation around a new system prompt.
// The cache entry is invalidated before the write so no reader can
// observe the old prompt after this call returns.
func (s *Service) SetSystemPrompt(ctx context.Context, userID int64, prompt string) error {
	s.cache.Delete(userID)

	return s.retryWrite(ctx, "set_system_prompt", userID, func() error {
		return s.store.SetSystemPrompt(ctx, userID, prompt)
	})
}

// DialogInfo summarises the user's conversation. It never fails: store
// errors degrade to a zeroed summary.
func (s *Service) DialogInfo(ctx context.Context, userID int64) DialogInfo {
	info, err := s.store.DialogInfo(ctx, userID)
	if err != nil {
		s.logger.Warn("dialog info lookup failed, returning empty", "user_id", userID, "error", err)
		return DialogInfo{}
	}
	return info
}

// SweepCache drops expired prompt cache entries and returns the count.
func (s *Service) SweepCache() int {
	return s.cache.Sweep()
}

// retryWrite runs op up to SaveRetryAttempts times with SaveRetryDelay
// between attempts. The last error is returned wrapped.
func (s *Service) retryWrite(ctx context.Context, op string, userID int64, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.SaveRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		s.logger.Warn("history write failed",
			"op", op,
			"user_id", userID,
			"attempt", attempt+1,
			"attempts", s.cfg.SaveRetryAttempts,
			"error", lastErr,
		)

		if attempt < s.cfg.SaveRetryAttempts-1 {
			if err := s.sleep(ctx, s.cfg.SaveRetryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrStorage, op, s.cfg.SaveRetryAttempts, lastErr)
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

// nopHandler discards all log records. Enabled returns false so slog
// skips formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
