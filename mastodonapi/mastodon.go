// Package mastodonapi implements the Mastodon provider: statuses are posted to
// the network's own server instance with a bearer token. Mastodon accepts one
// media attachment per upload call; this provider publishes the first
// attachment and logs any that are dropped.
package mastodonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wrenlabs/syndicate/provider"
)

// NetworkType is the registry key for this provider.
const NetworkType = "mastodon"

var requiredFields = []string{"server", "access_token"}

// Provider posts statuses and reads status engagement via the Mastodon REST API.
type Provider struct {
	// HTTPClient overrides http.DefaultClient, mainly for tests.
	HTTPClient *http.Client
}

// New returns a Mastodon provider.
func New() *Provider { return &Provider{} }

func (p *Provider) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *Provider) NetworkType() string      { return NetworkType }
func (p *Provider) RequiredFields() []string { return append([]string(nil), requiredFields...) }

// Validate requires a server base URL and an access token.
func (p *Provider) Validate(creds provider.Credentials) bool {
	return provider.ValidateFields(creds, requiredFields)
}

// MonitoringInterval is hourly; Mastodon status lookups are cheap.
func (p *Provider) MonitoringInterval() time.Duration { return time.Hour }

type statusResponse struct {
	ID              string `json:"id"`
	FavouritesCount int64  `json:"favourites_count"`
	ReblogsCount    int64  `json:"reblogs_count"`
	RepliesCount    int64  `json:"replies_count"`
}

type mediaResponse struct {
	ID string `json:"id"`
}

// Send publishes a status. When attachments are present the first is uploaded
// via /api/v2/media and linked to the status; the rest are dropped with a
// warning (Mastodon's per-call media flow handles one file here).
func (p *Provider) Send(ctx context.Context, text string, attachments []string, creds provider.Credentials) (string, error) {
	if !p.Validate(creds) {
		return "", errors.New("mastodon: invalid credentials")
	}
	server := strings.TrimRight(creds["server"], "/")
	token := creds["access_token"]

	var mediaID string
	if len(attachments) > 0 {
		if len(attachments) > 1 {
			slog.Warn("mastodon supports one attachment per status; dropping extras",
				slog.Int("dropped", len(attachments)-1), slog.String("component", "mastodon"))
		}
		id, err := p.uploadMedia(ctx, server, token, attachments[0])
		if err != nil {
			return "", fmt.Errorf("mastodon media upload: %w", err)
		}
		mediaID = id
	}

	form := url.Values{}
	form.Set("status", text)
	if mediaID != "" {
		form.Set("media_ids[]", mediaID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/v1/statuses", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("mastodon post status: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("mastodon post status failed: %s: %s", resp.Status, string(b))
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("mastodon decode status: %w", err)
	}
	if status.ID == "" {
		return "", errors.New("mastodon: empty status id in response")
	}
	return status.ID, nil
}

func (p *Provider) uploadMedia(ctx context.Context, server, token, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close attachment", slog.Any("err", err))
		}
	}()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/v2/media", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	// 202 means the server is still processing the media; the returned id is
	// already valid for status creation.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("media upload failed: %s: %s", resp.Status, string(b))
	}
	var media mediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return "", fmt.Errorf("decode media response: %w", err)
	}
	if media.ID == "" {
		return "", errors.New("empty media id in response")
	}
	return media.ID, nil
}

// Performance fetches favourites, boosts, and replies for a status.
func (p *Provider) Performance(ctx context.Context, remoteID string, creds provider.Credentials) (provider.Metrics, error) {
	if remoteID == "" {
		return nil, errors.New("mastodon: empty remote id")
	}
	if !p.Validate(creds) {
		return nil, errors.New("mastodon: invalid credentials")
	}
	server := strings.TrimRight(creds["server"], "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/v1/statuses/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds["access_token"])
	resp, err := p.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("mastodon get status: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mastodon get status failed: %s: %s", resp.Status, string(b))
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("mastodon decode status: %w", err)
	}
	return provider.Metrics{
		"favourites": status.FavouritesCount,
		"reblogs":    status.ReblogsCount,
		"replies":    status.RepliesCount,
	}, nil
}
