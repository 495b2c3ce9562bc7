package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/compozy/policychat/engine/infra/monitoring/metrics"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const unmatchedRoute = "unmatched"

type httpInstruments struct {
	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	inFlight      metric.Int64UpDownCounter
	responseBytes metric.Int64Histogram
}

var (
	instrumentsMu sync.Mutex
	instruments   *httpInstruments
)

func loadInstruments(ctx context.Context, meter metric.Meter) *httpInstruments {
	instrumentsMu.Lock()
	defer instrumentsMu.Unlock()
	if instruments != nil || meter == nil {
		return instruments
	}
	built, err := newInstruments(meter)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create HTTP metrics", "error", err)
		return nil
	}
	instruments = built
	return instruments
}

func newInstruments(meter metric.Meter) (*httpInstruments, error) {
	requests, err := meter.Int64Counter(
		metrics.MetricNameWithSubsystem("http", "requests_total"),
		metric.WithDescription("HTTP requests by route, status and outcome"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("http", "request_duration_seconds"),
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.HTTPDurationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter(
		metrics.MetricNameWithSubsystem("http", "requests_in_flight"),
		metric.WithDescription("Requests currently being served"),
	)
	if err != nil {
		return nil, err
	}
	responseBytes, err := meter.Int64Histogram(
		metrics.MetricNameWithSubsystem("http", "response_size_bytes"),
		metric.WithDescription("Response body size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	return &httpInstruments{requests: requests, duration: duration, inFlight: inFlight, responseBytes: responseBytes}, nil
}

// ResetMetricsForTesting drops the instruments so the next HTTPMetrics call uses a fresh meter.
func ResetMetricsForTesting() {
	instrumentsMu.Lock()
	defer instrumentsMu.Unlock()
	instruments = nil
}

// HTTPMetrics returns a Gin middleware that collects HTTP metrics.
// Routes are labeled by template so question text never becomes a label.
func HTTPMetrics(ctx context.Context, meter metric.Meter) gin.HandlerFunc {
	inst := loadInstruments(ctx, meter)
	return func(c *gin.Context) {
		if inst == nil {
			c.Next()
			return
		}
		start := time.Now()
		reqCtx := c.Request.Context()
		inst.inFlight.Add(reqCtx, 1)
		defer inst.inFlight.Add(reqCtx, -1)
		c.Next()
		inst.record(c, time.Since(start))
	}
}

func (i *httpInstruments) record(c *gin.Context, elapsed time.Duration) {
	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	status := c.Writer.Status()
	attrs := metric.WithAttributes(
		attribute.String("method", c.Request.Method),
		attribute.String("path", route),
		attribute.String("status_code", strconv.Itoa(status)),
		attribute.String("outcome", outcome(status)),
	)
	ctx := c.Request.Context()
	i.requests.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
	if size := c.Writer.Size(); size > 0 {
		i.responseBytes.Record(ctx, int64(size), attrs)
	}
}

func outcome(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status >= http.StatusBadRequest:
		return "client_error"
	default:
		return "success"
	}
}
