package llmadapter

import (
	"fmt"

	appconfig "github.com/compozy/policychat/pkg/config"
)

// NewClient builds the chat client described by cfg, wrapped in the
// configured circuit breaker and concurrency and request-rate limits.
func NewClient(cfg *appconfig.ChatConfig) (LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("chat config must not be nil")
	}
	model, err := NewChatModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	var client LLMClient = NewLangChainAdapter(model, cfg.Provider, cfg.Timeout)
	if cfg.CircuitBreaker.Enabled {
		client = NewBreakerClient(client, cfg.Provider, BreakerSettings{
			ErrorPercentThreshold: cfg.CircuitBreaker.ErrorPercentThreshold,
			MinimumRequests:       cfg.CircuitBreaker.MinimumRequests,
			OpenDuration:          cfg.CircuitBreaker.OpenDuration,
		})
	}
	if cfg.MaxConcurrency > 0 || cfg.RequestsPerMinute > 0 {
		client = NewRateLimitedClient(client, cfg.Provider, LimiterSettings{
			Concurrency:       int64(cfg.MaxConcurrency),
			RequestsPerMinute: float64(cfg.RequestsPerMinute),
		})
	}
	return client, nil
}
