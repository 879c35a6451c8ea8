package youtubeapi

import (
	"context"
	"strings"
	"testing"

	yt "google.golang.org/api/youtube/v3"

	"github.com/wrenlabs/syndicate/provider"
)

func creds() provider.Credentials {
	return provider.Credentials{"client_id": "cid", "client_secret": "cs", "refresh_token": "rt"}
}

func TestValidate(t *testing.T) {
	p := New()
	if p.Validate(nil) {
		t.Error("nil credentials must fail validation")
	}
	if p.Validate(provider.Credentials{"client_id": "cid", "client_secret": "cs"}) {
		t.Error("missing refresh_token must fail validation")
	}
	if !p.Validate(creds()) {
		t.Error("complete credentials must pass validation")
	}
}

func TestSendRequiresAttachment(t *testing.T) {
	called := false
	p := New()
	p.newService = func(ctx context.Context, c provider.Credentials) (*yt.Service, error) {
		called = true
		return nil, nil
	}
	if _, err := p.Send(context.Background(), "a video", nil, creds()); err == nil {
		t.Fatal("send without attachment must fail")
	}
	if called {
		t.Error("no API client should be built for an attachment-less send")
	}
}

func TestSendInvalidCredentials(t *testing.T) {
	p := New()
	if _, err := p.Send(context.Background(), "t", []string{"/tmp/v.mp4"}, nil); err == nil {
		t.Fatal("send with nil credentials must fail")
	}
}

func TestPerformanceEmptyRemoteID(t *testing.T) {
	p := New()
	if _, err := p.Performance(context.Background(), "", creds()); err == nil {
		t.Fatal("empty remote id must be rejected")
	}
}

func TestTitleFromText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"one line", "one line"},
		{"first line\nsecond line", "first line"},
		{"  padded  \nrest", "padded"},
		{"", "Untitled upload"},
		{strings.Repeat("x", 150), strings.Repeat("x", 100)},
	}
	for _, tc := range cases {
		if got := titleFromText(tc.in); got != tc.want {
			t.Errorf("titleFromText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
