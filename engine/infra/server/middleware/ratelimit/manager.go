package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/compozy/policychat/engine/infra/server/router"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel/metric"
)

// Manager owns the limiter store and builds the gin middleware.
type Manager struct {
	config  *Config
	limiter *limiter.Limiter
	driver  string
}

// NewManager creates a limiter backed by redisClient, or by process memory when it is nil.
func NewManager(cfg *Config, redisClient *redis.Client) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := limiter.StoreOptions{
		Prefix:   cfg.Prefix,
		MaxRetry: cfg.MaxRetry,
	}
	var (
		store  limiter.Store
		driver = "memory"
		err    error
	)
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
		}
		driver = "redis"
	} else {
		store = memory.NewStoreWithOptions(opts)
	}
	return &Manager{
		config:  cfg,
		limiter: limiter.New(store, cfg.Rate.ToLimiterRate()),
		driver:  driver,
	}, nil
}

// NewManagerWithMetrics also registers the limiter counters on meter.
func NewManagerWithMetrics(ctx context.Context, cfg *Config, redisClient *redis.Client, meter metric.Meter) (*Manager, error) {
	if meter != nil {
		if err := InitMetrics(meter); err != nil {
			logger.FromContext(ctx).Warn("Failed to initialize rate limit metrics", "error", err)
		}
	}
	return NewManager(cfg, redisClient)
}

// Driver reports the backing store, "memory" or "redis".
func (m *Manager) Driver() string {
	return m.driver
}

// Middleware limits requests per client IP.
func (m *Manager) Middleware() gin.HandlerFunc {
	return mgin.NewMiddleware(m.limiter,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			recordBlocked(c.Request.Context(), routeOf(c), m.driver)
			router.RespondProblemWithCode(c, http.StatusTooManyRequests, router.ErrRateLimitedCode,
				"rate limit exceeded, retry later")
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// Fail open when the store is unreachable.
			logger.FromContext(c.Request.Context()).Error("Rate limiter unavailable", "error", err)
			recordStoreError(c.Request.Context(), m.driver)
			c.Next()
		}),
	)
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}
