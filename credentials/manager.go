// Package credentials keeps platform tokens alive outside the request path.
// One Manager runs per managed platform type: it tracks a "last refreshed"
// marker per network in the kv table, and when a token's recorded age crosses
// the platform threshold it exchanges the token at the platform's refresh
// endpoint and persists the result. Failures leave the existing token in place
// to be retried next tick; the platform itself is the final arbiter of
// validity.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/telemetry"
)

// Store is the slice of the persistence gateway the manager needs.
type Store interface {
	ListNetworksByType(ctx context.Context, networkType string) ([]int64, error)
	GetCredentials(ctx context.Context, networkID int64) (provider.Credentials, error)
	UpsertCredential(ctx context.Context, networkID int64, name, value string) error
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
}

// RefreshFunc performs the platform-specific token exchange and returns the
// new token value.
type RefreshFunc func(ctx context.Context, userID, token string) (string, error)

// Config tunes one manager.
type Config struct {
	// Interval between refresh sweeps. Defaults to 12h.
	Interval time.Duration
	// MaxTokenAge is the platform-defined threshold after which a token is
	// refreshed. Defaults to 30 days.
	MaxTokenAge time.Duration
	// TokenField names the credential holding the token. Defaults to "access_token".
	TokenField string
	// UserIDField names the credential holding the platform user id required
	// by the refresh endpoint. The refresh is skipped (and logged) when the
	// field is empty or missing.
	UserIDField string
}

// Manager refreshes tokens for every network of one platform type.
type Manager struct {
	store       Store
	networkType string
	cfg         Config
	refresh     RefreshFunc

	// now is replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a manager; zero config fields get defaults.
func New(store Store, networkType string, cfg Config, refresh RefreshFunc) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Hour
	}
	if cfg.MaxTokenAge <= 0 {
		cfg.MaxTokenAge = 30 * 24 * time.Hour
	}
	if cfg.TokenField == "" {
		cfg.TokenField = "access_token"
	}
	return &Manager{store: store, networkType: networkType, cfg: cfg, refresh: refresh, now: time.Now}
}

func (m *Manager) markerKey(networkID int64) string {
	return fmt.Sprintf("token_refreshed_at:%s:%d", m.networkType, networkID)
}

// Start runs the backfill pass, then launches the periodic sweep. Starting a
// running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		slog.Info("credential manager already running", slog.String("network_type", m.networkType))
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	if err := m.BackfillTimestamps(ctx); err != nil {
		slog.Warn("timestamp backfill failed", slog.Any("err", err), slog.String("network_type", m.networkType))
	}
	slog.Info("credential manager starting",
		slog.String("network_type", m.networkType),
		slog.Duration("interval", m.cfg.Interval))
	go m.loop(loopCtx)
}

// Stop cancels the sweep loop and waits for it to exit. Stopping a stopped
// manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		slog.Info("credential manager not running", slog.String("network_type", m.networkType))
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	slog.Info("credential manager stopped", slog.String("network_type", m.networkType))
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	for {
		// Per-iteration jitter (±20% of interval) spreads refresh load the way
		// the token refresher always has.
		jitterRange := int64(m.cfg.Interval / 5)
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
		sleep := m.cfg.Interval + jitter
		if sleep < m.cfg.Interval/2 {
			sleep = m.cfg.Interval / 2
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		// An in-flight sweep finishes even when Stop cancels the loop context;
		// a half-run refresh exchange would otherwise be dropped mid-flight.
		m.sweep(context.WithoutCancel(ctx))
	}
}

// BackfillTimestamps inserts a "last refreshed" marker for every network of
// the managed type that lacks one, giving age-based decisions a baseline.
func (m *Manager) BackfillTimestamps(ctx context.Context) error {
	ids, err := m.store.ListNetworksByType(ctx, m.networkType)
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, id := range ids {
		key := m.markerKey(id)
		existing, err := m.store.GetKV(ctx, key)
		if err != nil {
			slog.Warn("marker lookup failed", slog.Any("err", err), slog.Int64("network_id", id))
			continue
		}
		if existing != "" {
			continue
		}
		if err := m.store.SetKV(ctx, key, m.now().UTC().Format(time.RFC3339)); err != nil {
			slog.Warn("marker backfill failed", slog.Any("err", err), slog.Int64("network_id", id))
		}
	}
	return nil
}

// sweep refreshes every network whose token age exceeds the threshold.
func (m *Manager) sweep(ctx context.Context) {
	ids, err := m.store.ListNetworksByType(ctx, m.networkType)
	if err != nil {
		slog.Warn("refresh sweep aborted: list networks failed", slog.Any("err", err), slog.String("network_type", m.networkType))
		return
	}
	for _, id := range ids {
		m.refreshNetwork(ctx, id)
	}
}

// refreshNetwork checks one network's marker age and refreshes when due.
// Every failure path logs and leaves the stored token untouched.
func (m *Manager) refreshNetwork(ctx context.Context, networkID int64) {
	logger := slog.Default().With(
		slog.String("network_type", m.networkType),
		slog.Int64("network_id", networkID),
		slog.String("component", "credentials"),
	)
	marker, err := m.store.GetKV(ctx, m.markerKey(networkID))
	if err != nil {
		logger.Warn("marker lookup failed", slog.Any("err", err))
		return
	}
	if marker != "" {
		refreshedAt, err := time.Parse(time.RFC3339, marker)
		if err == nil && m.now().Sub(refreshedAt) <= m.cfg.MaxTokenAge {
			return
		}
	}
	creds, err := m.store.GetCredentials(ctx, networkID)
	if err != nil {
		logger.Warn("credential lookup failed", slog.Any("err", err))
		return
	}
	token := creds[m.cfg.TokenField]
	if token == "" {
		logger.Warn("no token stored; nothing to refresh")
		return
	}
	userID := ""
	if m.cfg.UserIDField != "" {
		userID = creds[m.cfg.UserIDField]
	}
	newToken, err := m.RefreshOne(ctx, networkID, token, userID)
	if err != nil || newToken == "" {
		return // already logged
	}
	logger.Info("token refreshed")
}

// RefreshOne exchanges one network's token and persists the result, returning
// the new token. It returns "" without any outbound call when the platform
// user id is required but missing. Persistence errors are logged, never
// propagated; the refreshed token will be re-fetched next sweep.
func (m *Manager) RefreshOne(ctx context.Context, networkID int64, token, userID string) (string, error) {
	logger := slog.Default().With(
		slog.String("network_type", m.networkType),
		slog.Int64("network_id", networkID),
		slog.String("component", "credentials"),
	)
	if m.cfg.UserIDField != "" && userID == "" {
		logger.Error("cannot refresh token: missing platform user id", slog.String("field", m.cfg.UserIDField))
		return "", nil
	}
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newToken, err := m.refresh(rctx, userID, token)
	cancel()
	if err != nil {
		if telemetry.TokenRefreshFailures != nil {
			telemetry.TokenRefreshFailures.Inc()
		}
		logger.Warn("token refresh failed; keeping existing token", slog.Any("err", err))
		return "", err
	}
	if newToken == "" {
		logger.Warn("refresh endpoint returned empty token; keeping existing token")
		return "", nil
	}
	if err := m.store.UpsertCredential(ctx, networkID, m.cfg.TokenField, newToken); err != nil {
		logger.Warn("token persist failed", slog.Any("err", err))
		return newToken, nil
	}
	if err := m.store.SetKV(ctx, m.markerKey(networkID), m.now().UTC().Format(time.RFC3339)); err != nil {
		logger.Warn("marker update failed", slog.Any("err", err))
	}
	if telemetry.TokenRefreshes != nil {
		telemetry.TokenRefreshes.Inc()
	}
	return newToken, nil
}
