// Package openai implements llm.Endpoint against an OpenAI-compatible
// chat completions API.
package openai

import (
	"fmt"
	"net/http"
	"time"

	"github.com/flemzord/chatrelay/internal/llm"
)

// maxResponseSize is the maximum response body size (10 MB).
// Protects against OOM from malformed or huge responses.
const maxResponseSize = 10 * 1024 * 1024

// Config holds the endpoint configuration.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// defaults fills zero-valued fields with sensible defaults.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout == "" {
		c.Timeout = "120s"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("openai: api_key is required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("openai: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}

// parsedTimeout returns the timeout as a time.Duration.
// Assumes the value has been validated.
func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// Endpoint talks to an OpenAI-compatible chat completions API.
type Endpoint struct {
	config Config
	client *http.Client
}

var _ llm.Endpoint = (*Endpoint)(nil)

// New creates an Endpoint from config.
func New(cfg Config) (*Endpoint, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Endpoint{
		config: cfg,
		client: &http.Client{Timeout: cfg.parsedTimeout()},
	}, nil
}
