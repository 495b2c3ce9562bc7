package ratelimit

import (
	"fmt"
	"time"

	appconfig "github.com/compozy/policychat/pkg/config"
	"github.com/ulule/limiter/v3"
)

// Config represents rate limiting configuration for the chat route.
type Config struct {
	Rate RateConfig

	// Redis configuration. An empty address selects the in-memory store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Prefix   string
	MaxRetry int
}

// RateConfig represents a single rate limit configuration
type RateConfig struct {
	Period time.Duration
	Limit  int64
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		Rate: RateConfig{
			Limit:  60,
			Period: time.Minute,
		},
		Prefix:   "policychat:ratelimit:",
		MaxRetry: 3,
	}
}

// FromAppConfig converts the ratelimit section of the application configuration.
func FromAppConfig(cfg *appconfig.RateLimitConfig) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	out.Rate = RateConfig{Limit: cfg.ChatRate.Limit, Period: cfg.ChatRate.Period}
	out.RedisAddr = cfg.RedisAddr
	out.RedisPassword = cfg.RedisPassword.Value()
	out.RedisDB = cfg.RedisDB
	if cfg.Prefix != "" {
		out.Prefix = cfg.Prefix
	}
	if cfg.MaxRetry > 0 {
		out.MaxRetry = cfg.MaxRetry
	}
	return out
}

// ToLimiterRate converts RateConfig to limiter.Rate
func (rc RateConfig) ToLimiterRate() limiter.Rate {
	return limiter.Rate{
		Period: rc.Period,
		Limit:  rc.Limit,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Rate.Limit <= 0 {
		return fmt.Errorf("chat rate limit must be positive")
	}
	if c.Rate.Period <= 0 {
		return fmt.Errorf("chat rate period must be positive")
	}
	return nil
}
