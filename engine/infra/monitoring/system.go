package monitoring

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/compozy/policychat/engine/infra/monitoring/metrics"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/compozy/policychat/pkg/version"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Process-wide gauges. Guarded by systemMu so tests can reset them.
var (
	systemMu     sync.Mutex
	systemInit   bool
	buildGauge   metric.Float64Gauge
	uptimeReg    metric.Registration
	processStart time.Time
)

// InitSystemMetrics registers the build and uptime gauges on meter once, then
// records the build info.
func InitSystemMetrics(ctx context.Context, meter metric.Meter) {
	systemMu.Lock()
	defer systemMu.Unlock()
	if !systemInit {
		registerSystemMetrics(ctx, meter)
		systemInit = true
	}
	if buildGauge == nil {
		return
	}
	info := ResolveBuildInfo()
	buildGauge.Record(ctx, 1, metric.WithAttributes(
		attribute.String("version", info.Version),
		attribute.String("commit_hash", info.CommitHash),
		attribute.String("go_version", runtime.Version()),
	))
}

func registerSystemMetrics(ctx context.Context, meter metric.Meter) {
	log := logger.FromContext(ctx)
	var err error
	buildGauge, err = meter.Float64Gauge(
		metrics.MetricName("build_info"),
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		log.Error("Failed to create build info gauge", "error", err)
	}
	uptime, err := meter.Float64ObservableGauge(
		metrics.MetricName("uptime_seconds"),
		metric.WithDescription("Seconds since the process registered its metrics"),
	)
	if err != nil {
		log.Error("Failed to create uptime gauge", "error", err)
		return
	}
	processStart = time.Now()
	uptimeReg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(processStart).Seconds())
		return nil
	}, uptime)
	if err != nil {
		log.Error("Failed to register uptime callback", "error", err)
	}
}

// ResolveBuildInfo returns the link-time build info, falling back to the
// module version and VCS revision embedded by the Go toolchain.
func ResolveBuildInfo() version.Info {
	info := version.Get()
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	if info.CommitHash == "unknown" {
		for _, setting := range bi.Settings {
			if setting.Key == "vcs.revision" {
				info.CommitHash = setting.Value
				break
			}
		}
	}
	return info
}

// ResetSystemMetricsForTesting forgets registered gauges so a new meter can be used.
func ResetSystemMetricsForTesting() {
	systemMu.Lock()
	defer systemMu.Unlock()
	if uptimeReg != nil {
		_ = uptimeReg.Unregister()
		uptimeReg = nil
	}
	buildGauge = nil
	processStart = time.Time{}
	systemInit = false
}
