package llmadapter

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimiterSettings bounds calls to a chat provider.
// Zero values disable the corresponding limit.
type LimiterSettings struct {
	Concurrency       int64
	RequestsPerMinute float64
	RequestBurst      int
}

// RateLimiterMetricsSnapshot captures limiter counters at a point in time.
type RateLimiterMetricsSnapshot struct {
	ActiveRequests   int64
	TotalRequests    int64
	RejectedRequests int64
}

type limiterMetrics struct {
	activeRequests   atomic.Int64
	totalRequests    atomic.Int64
	rejectedRequests atomic.Int64
}

func (m *limiterMetrics) snapshot() RateLimiterMetricsSnapshot {
	return RateLimiterMetricsSnapshot{
		ActiveRequests:   m.activeRequests.Load(),
		TotalRequests:    m.totalRequests.Load(),
		RejectedRequests: m.rejectedRequests.Load(),
	}
}

// RateLimitedClient wraps an LLMClient with a concurrency cap and a request-rate limiter.
// Waiting callers give up when their context ends.
type RateLimitedClient struct {
	next        LLMClient
	provider    string
	sem         *semaphore.Weighted
	rateLimiter *rate.Limiter
	metrics     limiterMetrics
}

// NewRateLimitedClient wraps next with the given limits.
func NewRateLimitedClient(next LLMClient, provider string, settings LimiterSettings) *RateLimitedClient {
	c := &RateLimitedClient{next: next, provider: provider}
	if settings.Concurrency > 0 {
		c.sem = semaphore.NewWeighted(settings.Concurrency)
	}
	if settings.RequestsPerMinute > 0 {
		perSecond := settings.RequestsPerMinute / 60.0
		c.rateLimiter = rate.NewLimiter(rate.Limit(perSecond), computeBurst(perSecond, settings.RequestBurst))
	}
	return c
}

func computeBurst(perSecond float64, configured int) int {
	if configured > 0 {
		return configured
	}
	if perSecond <= 0 {
		return 1
	}
	return int(math.Ceil(perSecond))
}

// GenerateContent implements LLMClient interface
func (c *RateLimitedClient) GenerateContent(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return c.next.GenerateContent(ctx, req)
}

// Close implements LLMClient interface
func (c *RateLimitedClient) Close() error {
	return c.next.Close()
}

// Metrics returns the current limiter counters.
func (c *RateLimitedClient) Metrics() RateLimiterMetricsSnapshot {
	return c.metrics.snapshot()
}

func (c *RateLimitedClient) acquire(ctx context.Context) error {
	c.metrics.totalRequests.Add(1)
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.metrics.rejectedRequests.Add(1)
			return c.rateLimitError("concurrency limit wait canceled", err)
		}
	}
	c.metrics.activeRequests.Add(1)
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			c.metrics.rejectedRequests.Add(1)
			c.release()
			return c.rateLimitError("request rate wait canceled", err)
		}
	}
	return nil
}

func (c *RateLimitedClient) release() {
	c.metrics.activeRequests.Add(-1)
	if c.sem != nil {
		c.sem.Release(1)
	}
}

func (c *RateLimitedClient) rateLimitError(message string, underlying error) error {
	llmErr := NewErrorWithCode(ErrCodeRateLimit, fmt.Sprintf("%s (%s)", message, c.provider), c.provider, underlying)
	return fmt.Errorf("%w: %w", llmErr.Sentinel(), llmErr)
}
