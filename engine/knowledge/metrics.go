package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/policychat/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce           sync.Once
	metricsMu             sync.Mutex
	metricsInitErr        error
	ingestDurationHist    metric.Float64Histogram
	chunkCounter          metric.Int64Counter
	uploadFailureCounter  metric.Int64Counter
	queryLatencyHist      metric.Float64Histogram
	retrievalEmptyCounter metric.Int64Counter
)

// RecordIngestDuration records the wall time of a completed ingestion run.
func RecordIngestDuration(ctx context.Context, index string, d time.Duration, outcome string) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	ingestDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("index", index),
		attribute.String("outcome", outcome),
	))
}

func RecordIngestChunks(ctx context.Context, index string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("index", index)))
}

func RecordUploadFailures(ctx context.Context, index string, failed int) {
	if failed <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || uploadFailureCounter == nil {
		return
	}
	uploadFailureCounter.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("index", index)))
}

// RecordQueryLatency records one query-path stage (embed, search, generate, chat).
func RecordQueryLatency(ctx context.Context, stage string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func RecordRetrievalEmpty(ctx context.Context) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCounter == nil {
		return
	}
	retrievalEmptyCounter.Add(ctx, 1)
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	chunkCounter = nil
	uploadFailureCounter = nil
	queryLatencyHist = nil
	retrievalEmptyCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("policychat.knowledge")
		if err := initIngestMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		metricsInitErr = initQueryMetrics(meter)
	})
	return metricsInitErr
}

func initIngestMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("ingest", "duration_seconds"),
		metric.WithDescription("Latency of ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.IngestDurationBuckets...),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("ingest", "chunks_total"),
		metric.WithDescription("Number of chunks uploaded to the vector index"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	uploadFailureCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("ingest", "upload_failures_total"),
		metric.WithDescription("Number of chunks rejected by the vector index"),
		metric.WithUnit("1"),
	)
	return err
}

func initQueryMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("query", "stage_duration_seconds"),
		metric.WithDescription("Latency of query pipeline stages"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.QueryDurationBuckets...),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("retrieval", "empty_total"),
		metric.WithDescription("Number of questions that retrieved no sources"),
		metric.WithUnit("1"),
	)
	return err
}
