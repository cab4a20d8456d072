// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for chatrelay.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "2m" decode
// directly. yaml.v3 has no native time.Duration support.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration structure.
type Config struct {
	LLM           LLMConfig         `yaml:"llm"`
	History       HistoryConfig     `yaml:"history"`
	Delivery      DeliveryConfig    `yaml:"delivery"`
	Gateway       GatewayConfig     `yaml:"gateway"`
	Maintenance   MaintenanceConfig `yaml:"maintenance"`
	Log           LogConfig         `yaml:"log"`
	ShutdownGrace Duration          `yaml:"shutdown_grace"`
}

// LLMConfig configures the completion endpoint and the retry pipeline.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the API. Usually set via ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key"`

	// Model is the primary model identifier.
	Model string `yaml:"model"`

	// FallbackModel, when set, receives traffic after the primary model
	// exhausts its retries on a rate-limit or server error.
	FallbackModel string `yaml:"fallback_model"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Timeout bounds a single completion request.
	Timeout Duration `yaml:"timeout"`

	// RetryAttempts is the number of tries per model.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the backoff base: attempt n waits RetryDelay * 2^n.
	RetryDelay Duration `yaml:"retry_delay"`
}

// HistoryConfig configures conversation storage.
type HistoryConfig struct {
	// Backend selects the store: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Required for the sqlite backend.
	Path string `yaml:"path"`

	// MaxHistoryMessages bounds the active turns kept per user.
	MaxHistoryMessages int `yaml:"max_history_messages"`

	// MaxContextMessages bounds the turns sent to the model per request.
	MaxContextMessages int `yaml:"max_context_messages"`

	// DefaultSystemPrompt seeds new dialogs without a custom prompt.
	DefaultSystemPrompt string `yaml:"default_system_prompt"`

	SaveRetryAttempts int      `yaml:"save_retry_attempts"`
	SaveRetryDelay    Duration `yaml:"save_retry_delay"`

	// CacheTTL and CacheMaxSize bound the system prompt cache.
	CacheTTL     Duration `yaml:"cache_ttl"`
	CacheMaxSize int      `yaml:"cache_max_size"`
}

// DeliveryConfig configures how replies are chunked and paced.
type DeliveryConfig struct {
	// MaxMessageLength is the outbound chunk size limit in characters.
	MaxMessageLength int `yaml:"max_message_length"`

	// ChunkDelay is the pause between consecutive chunks of one reply.
	ChunkDelay Duration `yaml:"chunk_delay"`
}

// GatewayAuthConfig holds the HTTP API credentials.
type GatewayAuthConfig struct {
	// BearerToken guards the /api routes. Empty leaves them unmounted.
	BearerToken string `yaml:"bearer_token"`
}

// GatewayRateConfig holds the per-client rate limit.
type GatewayRateConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Bind string            `yaml:"bind"`
	Auth GatewayAuthConfig `yaml:"auth"`
	Rate GatewayRateConfig `yaml:"rate"`
}

// MaintenanceConfig configures the background housekeeping jobs.
type MaintenanceConfig struct {
	// PurgeSchedule is a 5-field cron expression for the soft-delete purge.
	PurgeSchedule string `yaml:"purge_schedule"`

	// PurgeAfterDays is how long soft-deleted rows stay recoverable.
	PurgeAfterDays int `yaml:"purge_after_days"`

	// SweepSchedule is a 5-field cron expression for the cache sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

func (c *Config) defaults() {
	c.LLM.defaults()
	c.History.defaults()
	c.Delivery.defaults()
	c.Gateway.defaults()
	c.Maintenance.defaults()
	c.Log.defaults()
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = Duration(30 * time.Second)
	}
}

func (c *LLMConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.Timeout <= 0 {
		c.Timeout = Duration(2 * time.Minute)
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = Duration(time.Second)
	}
}

func (c *HistoryConfig) defaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = 100
	}
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = 40
	}
	if c.DefaultSystemPrompt == "" {
		c.DefaultSystemPrompt = "You are a helpful assistant."
	}
	if c.SaveRetryAttempts < 1 {
		c.SaveRetryAttempts = 3
	}
	if c.SaveRetryDelay <= 0 {
		c.SaveRetryDelay = Duration(500 * time.Millisecond)
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = Duration(5 * time.Minute)
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = 1000
	}
}

func (c *DeliveryConfig) defaults() {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 4096
	}
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = Duration(500 * time.Millisecond)
	}
}

func (c *GatewayConfig) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.Rate.RequestsPerMin <= 0 {
		c.Rate.RequestsPerMin = 120
	}
}

func (c *MaintenanceConfig) defaults() {
	if c.PurgeSchedule == "" {
		c.PurgeSchedule = "0 3 * * *"
	}
	if c.PurgeAfterDays <= 0 {
		c.PurgeAfterDays = 30
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "*/10 * * * *"
	}
}

func (c *LogConfig) defaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}
