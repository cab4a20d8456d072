package gateway

import (
	"fmt"
	"net"
	"time"
)

// AuthConfig holds the API auth settings.
type AuthConfig struct {
	BearerToken string
}

// IsConfigured reports whether any credential is set. Without one the
// /api routes are not mounted.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != ""
}

// RateConfig holds the per-client rate limit settings.
type RateConfig struct {
	RequestsPerMin int
}

// Config holds the HTTP gateway configuration.
type Config struct {
	Bind            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Auth            AuthConfig
	Rate            RateConfig
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Rate.RequestsPerMin <= 0 {
		c.Rate.RequestsPerMin = 120
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		return fmt.Errorf("gateway: invalid bind address %q: %w", c.Bind, err)
	}
	return nil
}
