package llmadapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/goresilience"
	"github.com/slok/goresilience/circuitbreaker"
	gerrors "github.com/slok/goresilience/errors"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/pkg/logger"
)

// BreakerSettings configures the circuit in front of a chat provider.
type BreakerSettings struct {
	ErrorPercentThreshold int
	MinimumRequests       int
	OpenDuration          time.Duration
}

// BreakerClient stops calling a provider whose recent calls mostly failed
// with service errors. While open, calls fail fast as service unavailable.
// Rejected prompts do not count as failures.
type BreakerClient struct {
	next     LLMClient
	provider string
	runner   goresilience.Runner
}

// NewBreakerClient wraps next with a circuit breaker.
func NewBreakerClient(next LLMClient, provider string, settings BreakerSettings) *BreakerClient {
	if settings.OpenDuration <= 0 {
		settings.OpenDuration = 30 * time.Second
	}
	breaker := circuitbreaker.NewMiddleware(circuitbreaker.Config{
		ErrorPercentThresholdToOpen:        settings.ErrorPercentThreshold,
		MinimumRequestToOpen:               settings.MinimumRequests,
		SuccessfulRequiredOnHalfOpen:       1,
		WaitDurationInOpenState:            settings.OpenDuration,
		MetricsSlidingWindowBucketQuantity: 10,
		MetricsBucketDuration:              time.Second,
	})
	return &BreakerClient{next: next, provider: provider, runner: goresilience.RunnerChain(breaker)}
}

// GenerateContent implements LLMClient interface
func (c *BreakerClient) GenerateContent(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	var (
		resp    *LLMResponse
		callErr error
	)
	err := c.runner.Run(ctx, func(ctx context.Context) error {
		resp, callErr = c.next.GenerateContent(ctx, req)
		if callErr != nil && core.KindOf(callErr) == core.KindServiceUnavailable {
			return callErr
		}
		return nil
	})
	if errors.Is(err, gerrors.ErrCircuitOpen) {
		logger.FromContext(ctx).Warn("Chat provider circuit open", "provider", c.provider)
		return nil, fmt.Errorf("%w: chat provider %s is failing, circuit open", core.ErrServiceUnavailable, c.provider)
	}
	if callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close implements LLMClient interface
func (c *BreakerClient) Close() error {
	return c.next.Close()
}
