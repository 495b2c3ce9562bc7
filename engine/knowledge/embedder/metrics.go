package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/compozy/policychat/engine/core"
	monitoringmetrics "github.com/compozy/policychat/engine/infra/monitoring/metrics"
	"github.com/compozy/policychat/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName          = "policychat.knowledge.embedder"
	subsystemEmbedding = "embedder"
	labelProvider      = "provider"
	labelModel         = "model"
	labelErrorKind     = "error_kind"
	modelOther         = "other"
)

var defaultLatencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	errorLogOnce      sync.Once
	metricInstruments instruments
)

type instruments struct {
	generationLatency metric.Float64Histogram
	textsTotal        metric.Int64Counter
	cacheHitsTotal    metric.Int64Counter
	cacheMissesTotal  metric.Int64Counter
	errorsTotal       metric.Int64Counter
}

// normalizeModelName keeps the model label low-cardinality.
func normalizeModelName(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case normalized == "":
		return modelOther
	case strings.HasPrefix(normalized, "text-embedding-ada"):
		return "text-embedding-ada"
	case strings.HasPrefix(normalized, "text-embedding-3"):
		return "text-embedding-3"
	case strings.HasPrefix(normalized, "nomic-embed"):
		return "nomic-embed"
	case normalized == "mock":
		return "mock"
	default:
		return modelOther
	}
}

func recordGeneration(ctx context.Context, provider, model string, texts int, duration time.Duration) {
	if !ensureInstruments(ctx) {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(labelProvider, provider),
		attribute.String(labelModel, normalizeModelName(model)),
	)
	metricInstruments.generationLatency.Record(ctx, duration.Seconds(), attrs)
	metricInstruments.textsTotal.Add(ctx, int64(texts), attrs)
}

func recordCacheHit(ctx context.Context, provider string) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(labelProvider, provider)))
}

func recordCacheMiss(ctx context.Context, provider string) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(labelProvider, provider)))
}

func recordError(ctx context.Context, provider, model string, err error) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelProvider, provider),
		attribute.String(labelModel, normalizeModelName(model)),
		attribute.String(labelErrorKind, string(core.KindOf(err))),
	))
}

func newInstruments(meter metric.Meter) (instruments, error) {
	latency, err := meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedding, "generate_seconds"),
		metric.WithDescription("Embedding generation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(defaultLatencyBuckets...),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder latency histogram: %w", err)
	}
	texts, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedding, "texts_total"),
		metric.WithDescription("Texts sent to the embedding service"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder texts counter: %w", err)
	}
	hits, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedding, "cache_hits_total"),
		metric.WithDescription("Embedding cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder cache hits counter: %w", err)
	}
	misses, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedding, "cache_misses_total"),
		metric.WithDescription("Embedding cache misses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder cache misses counter: %w", err)
	}
	errorsCounter, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedding, "errors_total"),
		metric.WithDescription("Embedding generation errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder errors counter: %w", err)
	}
	return instruments{
		generationLatency: latency,
		textsTotal:        texts,
		cacheHitsTotal:    hits,
		cacheMissesTotal:  misses,
		errorsTotal:       errorsCounter,
	}, nil
}

func ensureInstruments(ctx context.Context) bool {
	metricsOnce.Do(func() {
		ins, err := newInstruments(otel.GetMeterProvider().Meter(meterName))
		if err != nil {
			metricsInitErr = err
			return
		}
		metricInstruments = ins
	})
	if metricsInitErr != nil {
		errorLogOnce.Do(func() {
			logger.FromContext(ctx).Error("embedder metrics disabled", "error", metricsInitErr)
		})
		return false
	}
	return true
}
