package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenlabs/syndicate/collector"
	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/scheduler"
)

// Deps carries the components the HTTP handlers expose or trigger.
type Deps struct {
	DB        *sql.DB
	Scheduler *scheduler.Scheduler
	Collector *collector.Collector
	Registry  *provider.Registry
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleStatus reports scheduler state and the registered platform types.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		SchedulerRunning bool      `json:"scheduler_running"`
		PublishInterval  string    `json:"publish_interval"`
		NextCheckAt      time.Time `json:"next_check_at,omitempty"`
		CollectorRunning bool      `json:"collector_running"`
		Platforms        []string  `json:"platforms"`
	}

	resp := statusResponse{}
	if h.deps.Scheduler != nil {
		st := h.deps.Scheduler.Status()
		resp.SchedulerRunning = st.Running
		resp.PublishInterval = st.Interval.String()
		resp.NextCheckAt = st.NextCheckAt
	}
	if h.deps.Collector != nil {
		resp.CollectorRunning = h.deps.Collector.Running()
	}
	if h.deps.Registry != nil {
		resp.Platforms = h.deps.Registry.SupportedTypes()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleAdminPublishRun triggers one publish cycle immediately.
func (h *Handlers) HandleAdminPublishRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.Scheduler.RunOnce(r.Context()); err != nil {
		slog.Error("manual publish cycle failed", slog.Any("err", err))
		http.Error(w, "publish cycle failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleAdminCollectRun triggers a metrics collection pass for one platform,
// selected via the ?platform= query parameter.
func (h *Handlers) HandleAdminCollectRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Collector == nil {
		http.Error(w, "collector not configured", http.StatusServiceUnavailable)
		return
	}
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		http.Error(w, "missing platform parameter", http.StatusBadRequest)
		return
	}
	if h.deps.Registry == nil || !h.deps.Registry.IsSupported(platform) {
		http.Error(w, "unknown platform", http.StatusBadRequest)
		return
	}
	h.deps.Collector.CollectPlatform(r.Context(), platform)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "platform": platform})
}
