package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/scheduler"
	"github.com/wrenlabs/syndicate/testutil"
)

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg := provider.NewRegistry()
	sched := scheduler.New(&testutil.FakeStore{}, reg, 0)
	return NewMux(ctx, Deps{Scheduler: sched, Registry: reg})
}

func TestStatusEndpoint(t *testing.T) {
	mux := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		SchedulerRunning bool     `json:"scheduler_running"`
		PublishInterval  string   `json:"publish_interval"`
		Platforms        []string `json:"platforms"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SchedulerRunning {
		t.Error("scheduler reported running before Start")
	}
	if body.PublishInterval != "1m0s" {
		t.Errorf("publish_interval = %q", body.PublishInterval)
	}
	if len(body.Platforms) != 0 {
		t.Errorf("platforms = %v, want empty", body.Platforms)
	}
}

func TestCorrelationIDEchoedAndGenerated(t *testing.T) {
	mux := newTestMux(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q, want corr-123", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("no correlation id generated")
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	mux := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
}

func TestAdminPublishRunRequiresPost(t *testing.T) {
	mux := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/publish/run", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestAdminPublishRunTriggersCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &testutil.FakeStore{}
	reg := provider.NewRegistry()
	sched := scheduler.New(store, reg, 0)
	mux := NewMux(ctx, Deps{Scheduler: sched, Registry: reg})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/publish/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminCollectRunValidation(t *testing.T) {
	mux := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/collect/run", nil))
	// Collector absent from deps.
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("missing collector: status = %d, want 503", rec.Code)
	}
}

func TestPreflightRequestShortCircuits(t *testing.T) {
	mux := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/status", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS headers on preflight")
	}
}
