package vectordb

import (
	"context"
	"strings"
	"sync"
	"time"

	monitoringmetrics "github.com/compozy/policychat/engine/infra/monitoring/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const labelUnknownValue = "unknown"

var (
	vectorMetricsOnce       sync.Once
	vectorMetricsErr        error
	vectorSearchLatency     metric.Float64Histogram
	vectorResultsCount      metric.Float64Histogram
	vectorTopScore          metric.Float64Histogram
	vectorActiveConnections metric.Int64ObservableGauge
	vectorErrorsTotal       metric.Int64Counter
	vectorUpsertedTotal     metric.Int64Counter
	vectorPools             sync.Map
	vectorGaugeReg          metric.Registration
)

func ensureVectorMetrics() error {
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("policychat.knowledge.vector")
		if err := initVectorHistograms(meter); err != nil {
			vectorMetricsErr = err
			return
		}
		if err := initVectorCounters(meter); err != nil {
			vectorMetricsErr = err
			return
		}
		if err := initVectorGauge(meter); err != nil {
			vectorMetricsErr = err
		}
	})
	return vectorMetricsErr
}

func initVectorHistograms(meter metric.Meter) error {
	var err error
	vectorSearchLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_search_seconds"),
		metric.WithDescription("Vector similarity search latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.QueryDurationBuckets...),
	)
	if err != nil {
		return err
	}
	vectorResultsCount, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_results_per_search"),
		metric.WithDescription("Number of results returned per search"),
		metric.WithExplicitBucketBoundaries(0, 1, 3, 5, 10, 25, 50),
	)
	if err != nil {
		return err
	}
	vectorTopScore, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_score_top"),
		metric.WithDescription("Score of the best match per search"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	return err
}

func initVectorCounters(meter metric.Meter) error {
	var err error
	vectorErrorsTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "store_errors_total"),
		metric.WithDescription("Vector store operation errors"),
	)
	if err != nil {
		return err
	}
	vectorUpsertedTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "records_upserted_total"),
		metric.WithDescription("Records accepted by the vector store"),
	)
	return err
}

func initVectorGauge(meter metric.Meter) error {
	var err error
	vectorActiveConnections, err = meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "store_connections_active"),
		metric.WithDescription("Active vector database connections"),
	)
	if err != nil {
		return err
	}
	var reg metric.Registration
	reg, err = meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		vectorPools.Range(func(key, value any) bool {
			pool, ok := value.(*pgxpool.Pool)
			if !ok || pool == nil {
				return true
			}
			index, ok := key.(string)
			if !ok || strings.TrimSpace(index) == "" {
				index = labelUnknownValue
			}
			observer.ObserveInt64(
				vectorActiveConnections,
				int64(pool.Stat().AcquiredConns()),
				metric.WithAttributes(attribute.String("index", index)),
			)
			return true
		})
		return nil
	}, vectorActiveConnections)
	if err == nil {
		vectorGaugeReg = reg
	}
	return err
}

// ShutdownVectorMetrics unregisters the gauge callback.
func ShutdownVectorMetrics() {
	if vectorGaugeReg != nil {
		//nolint:errcheck // Unregister errors are non-critical during shutdown
		_ = vectorGaugeReg.Unregister()
	}
}

func recordVectorSearch(ctx context.Context, backend string, topK int, duration time.Duration, matches []Match) {
	if err := ensureVectorMetrics(); err != nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("backend", sanitizeLabel(backend)),
		attribute.Int("top_k", topK),
	)
	vectorSearchLatency.Record(ctx, duration.Seconds(), labels)
	vectorResultsCount.Record(ctx, float64(len(matches)), labels)
	if len(matches) > 0 {
		vectorTopScore.Record(ctx, matches[0].Score, labels)
	}
}

func recordVectorUpsert(ctx context.Context, backend string, succeeded int) {
	if succeeded <= 0 {
		return
	}
	if err := ensureVectorMetrics(); err != nil || vectorUpsertedTotal == nil {
		return
	}
	vectorUpsertedTotal.Add(ctx, int64(succeeded), metric.WithAttributes(
		attribute.String("backend", sanitizeLabel(backend)),
	))
}

func recordVectorError(ctx context.Context, backend string, operation string) {
	if err := ensureVectorMetrics(); err != nil || vectorErrorsTotal == nil {
		return
	}
	vectorErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", sanitizeLabel(backend)),
		attribute.String("operation", sanitizeLabel(operation)),
	))
}

// trackVectorPool registers a pgx pool so the gauge callback can observe its statistics.
func trackVectorPool(index string, pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	if err := ensureVectorMetrics(); err != nil {
		return
	}
	vectorPools.Store(sanitizeLabel(index), pool)
}

func untrackVectorPool(index string) {
	vectorPools.Delete(sanitizeLabel(index))
}

func sanitizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return labelUnknownValue
	}
	return strings.ToLower(trimmed)
}
