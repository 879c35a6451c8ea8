// Package collector harvests post-performance metrics. Each registered
// platform gets its own cron cadence (the provider's monitoring interval) so a
// rate-limited platform polling every 12 hours never holds back the hourly
// ones. Samples land in the metrics sink; publishing is never blocked by
// collection.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wrenlabs/syndicate/db"
	"github.com/wrenlabs/syndicate/metricsink"
	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/telemetry"
)

// Store is the slice of the persistence gateway the collector needs.
type Store interface {
	FindTrackedDeliveries(ctx context.Context, networkType string, since time.Time) ([]db.TrackedDelivery, error)
	GetCredentials(ctx context.Context, networkID int64) (provider.Credentials, error)
}

// Lookback is how far back published posts stay eligible for polling.
const Lookback = 7 * 24 * time.Hour

// Collector runs the per-platform metric harvest timers.
type Collector struct {
	store    Store
	registry *provider.Registry
	sink     metricsink.Sink

	// now is replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// New builds a collector.
func New(store Store, registry *provider.Registry, sink metricsink.Sink) *Collector {
	return &Collector{store: store, registry: registry, sink: sink, now: time.Now}
}

// Start launches one timer per registered platform. Starting a running
// collector is a no-op.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		slog.Info("performance collector already running", slog.String("component", "collector"))
		return
	}
	c.cron = cron.New()
	for _, p := range c.registry.List() {
		networkType := p.NetworkType()
		interval := p.MonitoringInterval()
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := c.cron.AddFunc(spec, func() { c.CollectPlatform(ctx, networkType) }); err != nil {
			slog.Error("failed to schedule platform monitor", slog.Any("err", err), slog.String("network_type", networkType))
			continue
		}
		slog.Info("platform monitor scheduled",
			slog.String("network_type", networkType),
			slog.Duration("interval", interval),
			slog.String("component", "collector"))
	}
	c.cron.Start()
	c.running = true
}

// Stop halts all platform timers and closes the metrics sink, the one
// connection the collector owns. The persistence store is shared with the
// scheduler, so the caller closes it after every component has stopped; Stop
// deliberately leaves it open. Stopping a stopped collector is a no-op.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		slog.Info("performance collector not running", slog.String("component", "collector"))
		return
	}
	// Running jobs finish; cycles are short.
	<-c.cron.Stop().Done()
	c.running = false
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			slog.Warn("failed to close metrics sink", slog.Any("err", err))
		}
	}
	slog.Info("performance collector stopped", slog.String("component", "collector"))
}

// Running reports whether the timers are active.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CollectPlatform runs one harvest tick for a platform type. Per-post failures
// skip that post only; a missing provider or a failed tracked-post query skips
// the whole tick without affecting other platforms' timers.
func (c *Collector) CollectPlatform(ctx context.Context, networkType string) {
	logger := slog.Default().With(slog.String("network_type", networkType), slog.String("component", "collector"))
	tracked, err := c.store.FindTrackedDeliveries(ctx, networkType, c.now().Add(-Lookback))
	if err != nil {
		logger.Warn("tracked delivery query failed", slog.Any("err", err))
		return
	}
	if len(tracked) == 0 {
		logger.Debug("no tracked posts")
		return
	}
	p := c.registry.Get(networkType)
	if p == nil {
		logger.Error("no provider registered; skipping platform tick")
		return
	}
	for _, post := range tracked {
		c.collectOne(ctx, p, post, logger)
	}
}

// collectOne fetches and records a single post's metrics. Panics from a
// provider are contained so the cron timer survives.
func (c *Collector) collectOne(ctx context.Context, p provider.Provider, post db.TrackedDelivery, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during metrics fetch", slog.Any("panic", r), slog.String("remote_id", post.RemoteID))
		}
	}()
	creds, err := c.store.GetCredentials(ctx, post.NetworkID)
	if err != nil {
		logger.Warn("credential lookup failed", slog.Any("err", err), slog.Int64("network_id", post.NetworkID))
		return
	}
	if !p.Validate(creds) {
		logger.Warn("credentials failed validation; skipping post", slog.String("remote_id", post.RemoteID))
		return
	}
	metrics, err := p.Performance(ctx, post.RemoteID, creds)
	if err != nil || metrics == nil {
		logger.Warn("metrics fetch rejected", slog.Any("err", err), slog.String("remote_id", post.RemoteID))
		return
	}
	sample := metricsink.Sample{
		RemoteID:    post.RemoteID,
		NetworkType: post.NetworkType,
		Timestamp:   c.now().UTC(),
		Metrics:     metrics,
	}
	if err := c.sink.Write(ctx, sample); err != nil {
		if telemetry.SampleWriteFailures != nil {
			telemetry.SampleWriteFailures.Inc()
		}
		logger.Warn("sample write failed", slog.Any("err", err), slog.String("remote_id", post.RemoteID))
		return
	}
	if telemetry.SamplesWritten != nil {
		telemetry.SamplesWritten.Inc()
	}
}

// MonitorOnce fetches metrics for a single post on demand. Unlike the timer
// path it fails loudly: an unknown network type or rejected credentials is a
// caller mistake, not an operational condition to skip past.
func (c *Collector) MonitorOnce(ctx context.Context, remoteID, networkType string, networkID int64) (metricsink.Sample, error) {
	if remoteID == "" {
		return metricsink.Sample{}, errors.New("remote id is required")
	}
	p := c.registry.Get(networkType)
	if p == nil {
		return metricsink.Sample{}, fmt.Errorf("unsupported network type %q", networkType)
	}
	creds, err := c.store.GetCredentials(ctx, networkID)
	if err != nil {
		return metricsink.Sample{}, fmt.Errorf("credential lookup: %w", err)
	}
	if !p.Validate(creds) {
		return metricsink.Sample{}, fmt.Errorf("invalid credentials for network %d", networkID)
	}
	metrics, err := p.Performance(ctx, remoteID, creds)
	if err != nil {
		return metricsink.Sample{}, fmt.Errorf("fetch performance: %w", err)
	}
	if metrics == nil {
		return metricsink.Sample{}, errors.New("provider rejected the metrics request")
	}
	return metricsink.Sample{
		RemoteID:    remoteID,
		NetworkType: p.NetworkType(),
		Timestamp:   c.now().UTC(),
		Metrics:     metrics,
	}, nil
}
