// Package scheduler drives publication of due deliveries. A single timer loop
// polls the persistence gateway for (post, network, content) rows whose
// scheduled time has passed, resolves each network's provider, and attempts
// delivery. Every attempt is terminal: the row gets published_at set whether
// the send succeeded (remote_id recorded) or failed (remote_id left null), and
// is never re-selected.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenlabs/syndicate/db"
	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/telemetry"
)

// Store is the slice of the persistence gateway the scheduler needs.
type Store interface {
	FindDueDeliveries(ctx context.Context, now time.Time) ([]db.ScheduledDelivery, error)
	MarkDelivered(ctx context.Context, postID, networkID, contentID int64, remoteID *string, publishedAt time.Time) error
	GetCredentials(ctx context.Context, networkID int64) (provider.Credentials, error)
}

// DefaultInterval is the polling cadence when none is configured. It is kept
// small so a freshly scheduled post is picked up promptly.
const DefaultInterval = time.Minute

// Status reports the scheduler's current state to operational tooling.
type Status struct {
	Running     bool
	Interval    time.Duration
	NextCheckAt time.Time
}

// Scheduler owns the publishing loop.
type Scheduler struct {
	store    Store
	registry *provider.Registry
	interval time.Duration

	// now is replaceable in tests.
	now func() time.Time

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	nextCheckAt time.Time
}

// New builds a scheduler. A non-positive interval falls back to DefaultInterval.
func New(store Store, registry *provider.Registry, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{store: store, registry: registry, interval: interval, now: time.Now}
}

// Start launches the timer loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		slog.Info("publish scheduler already running", slog.String("component", "scheduler"))
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.nextCheckAt = s.now().Add(s.interval)
	telemetry.SetSchedulerRunning(true)
	slog.Info("publish scheduler starting", slog.Duration("interval", s.interval), slog.String("component", "scheduler"))
	go s.loop(loopCtx)
}

// Stop cancels the timer. An in-flight cycle is allowed to finish; Stop blocks
// until the loop goroutine exits. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		slog.Info("publish scheduler not running", slog.String("component", "scheduler"))
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	telemetry.SetSchedulerRunning(false)
	slog.Info("publish scheduler stopped", slog.String("component", "scheduler"))
}

// Status returns whether the loop runs, its interval, and the next tick time.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running, Interval: s.interval}
	if s.running {
		st.NextCheckAt = s.nextCheckAt
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextCheckAt = s.now().Add(s.interval)
			s.mu.Unlock()
			// Stop cancels the loop context between ticks; a cycle already
			// underway runs to completion so a send in flight is never aborted
			// and misrecorded as a terminal failure.
			if err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("publish cycle failed", slog.Any("err", err), slog.String("component", "scheduler"))
			}
		}
	}
}

// RunOnce executes one publishing cycle synchronously. A failure to retrieve
// the due set aborts the cycle (the next tick retries from scratch); a failure
// on one row never blocks the rest of the batch.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "publish_cycle")
	defer span.End()

	if telemetry.PublishCycles != nil {
		telemetry.PublishCycles.Inc()
	}
	cycleStart := time.Now()
	defer func() {
		if telemetry.CycleDuration != nil {
			telemetry.CycleDuration.Observe(time.Since(cycleStart).Seconds())
		}
	}()

	now := s.now()
	due, err := s.store.FindDueDeliveries(ctx, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("find due deliveries: %w", err)
	}
	telemetry.SetDueQueueDepth(len(due))
	span.SetAttributes(attribute.Int("due_count", len(due)))
	if len(due) == 0 {
		slog.Debug("no due deliveries", slog.String("component", "scheduler"))
		return nil
	}
	slog.Info("processing due deliveries", slog.Int("count", len(due)), slog.String("component", "scheduler"))
	for _, d := range due {
		s.publishOne(ctx, d)
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// publishOne attempts a single delivery and records its terminal state. It
// never lets an error (or a panicking provider) escape to the cycle.
func (s *Scheduler) publishOne(ctx context.Context, d db.ScheduledDelivery) {
	logger := slog.Default().With(
		slog.Int64("post_id", d.PostID),
		slog.Int64("network_id", d.NetworkID),
		slog.Int64("content_id", d.ContentID),
		slog.String("network_type", d.NetworkType),
		slog.String("component", "scheduler"),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during publish; marking delivery failed", slog.Any("panic", r))
			s.markFailed(ctx, d, logger)
		}
	}()

	start := time.Now()
	p := s.registry.Get(d.NetworkType)
	if p == nil {
		logger.Error("no provider registered for network type")
		s.markFailed(ctx, d, logger)
		return
	}
	creds, err := s.store.GetCredentials(ctx, d.NetworkID)
	if err != nil {
		logger.Error("credential lookup failed", slog.Any("err", err))
		s.markFailed(ctx, d, logger)
		return
	}
	if !p.Validate(creds) {
		logger.Warn("credentials failed validation; publish not attempted")
		s.markFailed(ctx, d, logger)
		return
	}
	remoteID, err := p.Send(ctx, d.Body, d.Attachments, creds)
	if err != nil || remoteID == "" {
		if err != nil {
			logger.Error("send failed", slog.Any("err", err))
		} else {
			logger.Error("send returned empty remote id")
		}
		s.markFailed(ctx, d, logger)
		return
	}
	if err := s.store.MarkDelivered(ctx, d.PostID, d.NetworkID, d.ContentID, &remoteID, s.now()); err != nil {
		// The post is live but the row could not be updated. Log loudly; the
		// row stays due and a later cycle may double-publish (single-instance
		// operational constraint, documented).
		logger.Error("failed to persist successful publish", slog.Any("err", err), slog.String("remote_id", remoteID))
		return
	}
	if telemetry.PublishesSucceeded != nil {
		telemetry.PublishesSucceeded.Inc()
	}
	if telemetry.PublishDuration != nil {
		telemetry.PublishDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info("delivery published", slog.String("remote_id", remoteID), slog.Duration("duration", time.Since(start)))
}

// markFailed records the attempted-and-failed terminal state (published_at
// set, remote_id null).
func (s *Scheduler) markFailed(ctx context.Context, d db.ScheduledDelivery, logger *slog.Logger) {
	if telemetry.PublishesFailed != nil {
		telemetry.PublishesFailed.Inc()
	}
	if err := s.store.MarkDelivered(ctx, d.PostID, d.NetworkID, d.ContentID, nil, s.now()); err != nil {
		logger.Error("failed to persist terminal failure", slog.Any("err", err))
	}
}
