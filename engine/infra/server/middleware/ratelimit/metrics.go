package ratelimit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/policychat/engine/infra/monitoring/metrics"
)

var (
	blockedTotal    metric.Int64Counter
	storeErrorTotal metric.Int64Counter
	metricsOnce     sync.Once
)

// InitMetrics registers the limiter counters once per process.
func InitMetrics(meter metric.Meter) error {
	var err error
	metricsOnce.Do(func() {
		blockedTotal, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("ratelimit", "blocked_total"),
			metric.WithDescription("Chat requests rejected by the per-client rate limit"),
			metric.WithUnit("1"),
		)
		if err != nil {
			return
		}
		storeErrorTotal, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("ratelimit", "store_errors_total"),
			metric.WithDescription("Requests let through because the limiter store failed"),
			metric.WithUnit("1"),
		)
	})
	return err
}

func recordBlocked(ctx context.Context, route, driver string) {
	if blockedTotal == nil {
		return
	}
	blockedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("driver", driver),
	))
}

func recordStoreError(ctx context.Context, driver string) {
	if storeErrorTotal == nil {
		return
	}
	storeErrorTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("driver", driver)))
}
