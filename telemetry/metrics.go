// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PublishCycles        prometheus.Counter
	PublishesSucceeded   prometheus.Counter
	PublishesFailed      prometheus.Counter
	TokenRefreshes       prometheus.Counter
	TokenRefreshFailures prometheus.Counter
	SamplesWritten       prometheus.Counter
	SampleWriteFailures  prometheus.Counter

	// Histograms (seconds)
	PublishDuration prometheus.Observer
	CycleDuration   prometheus.Observer

	// Gauges
	DueQueueDepthGauge prometheus.Gauge
	SchedulerUpGauge   prometheus.Gauge // 1=running,0=stopped
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PublishCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "syndicate_publish_cycles_total", Help: "Number of publishing cycles executed"})
		PublishesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "syndicate_publishes_succeeded_total", Help: "Number of deliveries published successfully"})
		PublishesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "syndicate_publishes_failed_total", Help: "Number of deliveries marked failed"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "syndicate_token_refreshes_total", Help: "Number of credential refreshes persisted"})
		TokenRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "syndicate_token_refresh_failures_total", Help: "Number of failed credential refresh attempts"})
		SamplesWritten = promauto.NewCounter(prometheus.CounterOpts{Name: "syndicate_samples_written_total", Help: "Number of performance samples written to the sink"})
		SampleWriteFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "syndicate_sample_write_failures_total", Help: "Number of performance sample writes that failed"})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "syndicate_publish_duration_seconds", Help: "Per-delivery publish duration seconds", Buckets: prometheus.DefBuckets})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "syndicate_cycle_duration_seconds", Help: "Publishing cycle duration seconds", Buckets: prometheus.DefBuckets})
		DueQueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "syndicate_due_queue_depth", Help: "Number of due deliveries seen in the last cycle"})
		SchedulerUpGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "syndicate_scheduler_running", Help: "Publishing scheduler running=1 stopped=0"})
	})
}

// SetDueQueueDepth records the due-delivery count from the latest cycle.
func SetDueQueueDepth(n int) {
	if DueQueueDepthGauge != nil {
		DueQueueDepthGauge.Set(float64(n))
	}
}

// SetSchedulerRunning flips the scheduler liveness gauge.
func SetSchedulerRunning(running bool) {
	if SchedulerUpGauge == nil {
		return
	}
	if running {
		SchedulerUpGauge.Set(1)
	} else {
		SchedulerUpGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
