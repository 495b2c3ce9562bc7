package monitoring

import (
	"fmt"
	"strings"

	appconfig "github.com/compozy/policychat/pkg/config"
)

// Config holds configuration for monitoring service
type Config struct {
	Enabled bool
	Path    string
}

// DefaultConfig returns default monitoring configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Path:    "/metrics",
	}
}

// FromAppConfig derives the monitoring settings from the application configuration.
func FromAppConfig(cfg *appconfig.Config) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	out.Enabled = cfg.Monitoring.Enabled
	if cfg.Monitoring.Path != "" {
		out.Path = cfg.Monitoring.Path
	}
	return out
}

// Validate validates the monitoring configuration
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("monitoring path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", c.Path)
	}
	switch c.Path {
	case "/", "/chat", "/health":
		return fmt.Errorf("monitoring path %s conflicts with an API route", c.Path)
	}
	if strings.ContainsRune(c.Path, '?') {
		return fmt.Errorf("monitoring path cannot contain query parameters")
	}
	return nil
}
