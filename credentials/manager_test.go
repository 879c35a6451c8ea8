package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/testutil"
)

type refreshRecorder struct {
	mu     sync.Mutex
	calls  int
	lastID string
	token  string
	err    error
}

func (r *refreshRecorder) fn(ctx context.Context, userID, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastID = userID
	if r.err != nil {
		return "", r.err
	}
	return r.token, nil
}

func (r *refreshRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestBackfillTimestampsOnlyMissing(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Networks["instagram"] = []int64{1, 2}
	existing := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	store.KV["token_refreshed_at:instagram:1"] = existing

	m := New(store, "instagram", Config{UserIDField: "ig_user_id"}, func(ctx context.Context, userID, token string) (string, error) {
		return "fresh", nil
	})
	if err := m.BackfillTimestamps(context.Background()); err != nil {
		t.Fatalf("BackfillTimestamps: %v", err)
	}
	if store.KV["token_refreshed_at:instagram:1"] != existing {
		t.Error("existing marker must not be overwritten")
	}
	if store.KV["token_refreshed_at:instagram:2"] == "" {
		t.Error("missing marker must be backfilled")
	}
}

// Scenario: the credential set lacks the platform user id — refresh must not
// reach the network.
func TestRefreshOneMissingUserID(t *testing.T) {
	store := testutil.NewFakeStore()
	rec := &refreshRecorder{token: "fresh"}
	m := New(store, "instagram", Config{UserIDField: "ig_user_id"}, rec.fn)

	got, err := m.RefreshOne(context.Background(), 1, "old-token", "")
	if err != nil {
		t.Fatalf("RefreshOne: %v", err)
	}
	if got != "" {
		t.Errorf("RefreshOne = %q, want empty", got)
	}
	if rec.callCount() != 0 {
		t.Errorf("refresh endpoint hit %d times, want 0", rec.callCount())
	}
	if len(store.UpsertedCreds) != 0 {
		t.Error("nothing must be persisted when refresh is skipped")
	}
}

func TestRefreshOneSuccessPersistsTokenAndMarker(t *testing.T) {
	store := testutil.NewFakeStore()
	rec := &refreshRecorder{token: "fresh-token"}
	m := New(store, "instagram", Config{UserIDField: "ig_user_id"}, rec.fn)

	got, err := m.RefreshOne(context.Background(), 7, "old-token", "user-7")
	if err != nil {
		t.Fatalf("RefreshOne: %v", err)
	}
	if got != "fresh-token" {
		t.Errorf("RefreshOne = %q, want fresh-token", got)
	}
	if len(store.UpsertedCreds) != 1 {
		t.Fatalf("got %d credential upserts, want 1", len(store.UpsertedCreds))
	}
	up := store.UpsertedCreds[0]
	if up.NetworkID != 7 || up.Name != "access_token" || up.Value != "fresh-token" {
		t.Errorf("unexpected upsert %+v", up)
	}
	if store.KV["token_refreshed_at:instagram:7"] == "" {
		t.Error("marker must be reset after refresh")
	}
}

func TestRefreshOneFailureLeavesTokenUntouched(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Creds[3] = provider.Credentials{"access_token": "old-token", "ig_user_id": "u3"}
	rec := &refreshRecorder{err: errors.New("platform 500")}
	m := New(store, "instagram", Config{UserIDField: "ig_user_id"}, rec.fn)

	if _, err := m.RefreshOne(context.Background(), 3, "old-token", "u3"); err == nil {
		t.Fatal("RefreshOne should return the refresh error")
	}
	if len(store.UpsertedCreds) != 0 {
		t.Error("failed refresh must not persist anything")
	}
	if store.Creds[3]["access_token"] != "old-token" {
		t.Error("existing token must remain in place")
	}
}

func TestSweepRefreshesOnlyAgedTokens(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Networks["instagram"] = []int64{1, 2}
	store.Creds[1] = provider.Credentials{"access_token": "t1", "ig_user_id": "u1"}
	store.Creds[2] = provider.Credentials{"access_token": "t2", "ig_user_id": "u2"}
	now := time.Now()
	// Network 1 refreshed recently, network 2 long ago.
	store.KV["token_refreshed_at:instagram:1"] = now.Add(-time.Hour).UTC().Format(time.RFC3339)
	store.KV["token_refreshed_at:instagram:2"] = now.Add(-60 * 24 * time.Hour).UTC().Format(time.RFC3339)

	rec := &refreshRecorder{token: "fresh"}
	m := New(store, "instagram", Config{UserIDField: "ig_user_id", MaxTokenAge: 30 * 24 * time.Hour}, rec.fn)
	m.sweep(context.Background())

	if rec.callCount() != 1 {
		t.Fatalf("refresh called %d times, want 1", rec.callCount())
	}
	if rec.lastID != "u2" {
		t.Errorf("refreshed user = %q, want u2", rec.lastID)
	}
	if store.Creds[2]["access_token"] != "fresh" {
		t.Error("aged token must be replaced")
	}
	if store.Creds[1]["access_token"] != "t1" {
		t.Error("recent token must be untouched")
	}
}

func TestStopLetsInFlightSweepFinish(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Networks["instagram"] = []int64{1}
	store.Creds[1] = provider.Credentials{"access_token": "old", "ig_user_id": "u1"}
	store.KV["token_refreshed_at:instagram:1"] = time.Now().Add(-60 * 24 * time.Hour).UTC().Format(time.RFC3339)

	entered := make(chan struct{})
	release := make(chan struct{})
	var ctxErr error
	m := New(store, "instagram", Config{Interval: 10 * time.Millisecond, UserIDField: "ig_user_id"},
		func(ctx context.Context, userID, token string) (string, error) {
			close(entered)
			<-release
			ctxErr = ctx.Err()
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "fresh", nil
		})
	m.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never reached the refresh exchange")
	}
	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	// Give Stop time to cancel the loop context before the exchange returns.
	time.Sleep(50 * time.Millisecond)
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
	if ctxErr != nil {
		t.Fatalf("in-flight refresh saw context error %v, want none", ctxErr)
	}
	if store.Creds[1]["access_token"] != "fresh" {
		t.Error("refreshed token must be persisted despite shutdown")
	}
}

func TestStartStopNoOps(t *testing.T) {
	store := testutil.NewFakeStore()
	m := New(store, "instagram", Config{}, func(ctx context.Context, userID, token string) (string, error) {
		return "fresh", nil
	})
	m.Stop() // stopped manager: no-op
	ctx := context.Background()
	m.Start(ctx)
	m.Start(ctx) // running manager: no-op
	m.Stop()
	m.Stop()
}

func TestNewAppliesDefaults(t *testing.T) {
	m := New(testutil.NewFakeStore(), "mastodon", Config{}, nil)
	if m.cfg.Interval != 12*time.Hour {
		t.Errorf("default interval = %v, want 12h", m.cfg.Interval)
	}
	if m.cfg.TokenField != "access_token" {
		t.Errorf("default token field = %q, want access_token", m.cfg.TokenField)
	}
	if m.cfg.MaxTokenAge <= 0 {
		t.Error("default max token age must be positive")
	}
}
