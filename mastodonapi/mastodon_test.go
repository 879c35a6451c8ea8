package mastodonapi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/wrenlabs/syndicate/provider"
	"github.com/wrenlabs/syndicate/testutil"
)

func creds(server string) provider.Credentials {
	return provider.Credentials{"server": server, "access_token": "tok"}
}

func TestValidate(t *testing.T) {
	p := New()
	if p.Validate(nil) {
		t.Error("nil credentials must fail validation")
	}
	if p.Validate(provider.Credentials{"server": "https://example.social"}) {
		t.Error("missing access_token must fail validation")
	}
	if !p.Validate(creds("https://example.social")) {
		t.Error("complete credentials must pass validation")
	}
}

func TestSendTextOnly(t *testing.T) {
	srv := testutil.NewMockPlatformServer(t)
	srv.RespondJSON("/api/v1/statuses", http.StatusOK, map[string]any{"id": "109501"})

	p := New()
	id, err := p.Send(context.Background(), "hello fediverse", nil, creds(srv.URL))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "109501" {
		t.Errorf("remote id = %q, want 109501", id)
	}
	paths := srv.RequestedPaths()
	if len(paths) != 1 || paths[0] != "/api/v1/statuses" {
		t.Errorf("requested %v, want one status post and no media upload", paths)
	}
}

func TestSendUploadsFirstAttachmentOnly(t *testing.T) {
	srv := testutil.NewMockPlatformServer(t)
	srv.RespondJSON("/api/v2/media", http.StatusOK, map[string]any{"id": "m77"})
	srv.Handlers["/api/v1/statuses"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("media_ids[]"); got != "m77" {
			t.Errorf("status posted with media id %q, want m77", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"109502"}`))
	}

	dir := t.TempDir()
	first := filepath.Join(dir, "a.png")
	second := filepath.Join(dir, "b.png")
	for _, f := range []string{first, second} {
		if err := os.WriteFile(f, []byte("img"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	p := New()
	id, err := p.Send(context.Background(), "with pics", []string{first, second}, creds(srv.URL))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "109502" {
		t.Errorf("remote id = %q, want 109502", id)
	}
	paths := srv.RequestedPaths()
	if len(paths) != 2 || paths[0] != "/api/v2/media" || paths[1] != "/api/v1/statuses" {
		t.Errorf("request order %v, want media upload then status post", paths)
	}
}

func TestSendInvalidCredentialsNoNetworkCall(t *testing.T) {
	srv := testutil.NewMockPlatformServer(t)
	p := New()
	if _, err := p.Send(context.Background(), "x", nil, provider.Credentials{"server": srv.URL}); err == nil {
		t.Fatal("Send must fail on invalid credentials")
	}
	if n := len(srv.RequestedPaths()); n != 0 {
		t.Errorf("made %d network calls with invalid credentials, want 0", n)
	}
}

func TestSendAPIErrorSurfaces(t *testing.T) {
	srv := testutil.NewMockPlatformServer(t)
	srv.RespondJSON("/api/v1/statuses", http.StatusUnprocessableEntity, map[string]any{"error": "too long"})

	p := New()
	if _, err := p.Send(context.Background(), "x", nil, creds(srv.URL)); err == nil {
		t.Fatal("Send must surface API failures")
	}
}

func TestPerformance(t *testing.T) {
	srv := testutil.NewMockPlatformServer(t)
	srv.RespondJSON("/api/v1/statuses/109501", http.StatusOK, map[string]any{
		"id": "109501", "favourites_count": 12, "reblogs_count": 4, "replies_count": 2,
	})

	p := New()
	m, err := p.Performance(context.Background(), "109501", creds(srv.URL))
	if err != nil {
		t.Fatalf("Performance: %v", err)
	}
	if m["favourites"] != 12 || m["reblogs"] != 4 || m["replies"] != 2 {
		t.Errorf("unexpected metrics %v", m)
	}
}

func TestPerformanceEmptyRemoteID(t *testing.T) {
	p := New()
	if _, err := p.Performance(context.Background(), "", creds("https://example.social")); err == nil {
		t.Fatal("empty remote id must be rejected")
	}
}

func TestMonitoringInterval(t *testing.T) {
	if got := New().MonitoringInterval().Hours(); got != 1 {
		t.Errorf("monitoring interval = %vh, want 1h", got)
	}
}
