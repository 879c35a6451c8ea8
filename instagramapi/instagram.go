// Package instagramapi implements the Instagram Graph provider. Publishing is
// two-phase: a media container is created for the first attachment, then
// published. Instagram requires an image, so a text-only delivery fails, and
// attachment entries must be publicly reachable URLs (the Graph API fetches
// them server-side). Insights polling is kept at a 12 hour cadence because the
// insights endpoints are aggressively rate limited.
package instagramapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wrenlabs/syndicate/provider"
)

// NetworkType is the registry key for this provider.
const NetworkType = "instagram"

// DefaultBaseURL is the Graph API root used when none is configured.
const DefaultBaseURL = "https://graph.facebook.com/v19.0"

var requiredFields = []string{"access_token", "ig_user_id"}

// Provider publishes media and reads insights via the Instagram Graph API.
type Provider struct {
	// BaseURL overrides the Graph API root, mainly for tests.
	BaseURL string
	// HTTPClient overrides http.DefaultClient, mainly for tests.
	HTTPClient *http.Client
}

// New returns an Instagram provider against the production Graph API.
func New() *Provider { return &Provider{} }

func (p *Provider) base() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (p *Provider) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *Provider) NetworkType() string      { return NetworkType }
func (p *Provider) RequiredFields() []string { return append([]string(nil), requiredFields...) }

// Validate requires an access token and the Instagram business account id.
func (p *Provider) Validate(creds provider.Credentials) bool {
	return provider.ValidateFields(creds, requiredFields)
}

// MonitoringInterval is 12 hours; insights endpoints rate limit far below the
// other platforms.
func (p *Provider) MonitoringInterval() time.Duration { return 12 * time.Hour }

type idResponse struct {
	ID string `json:"id"`
}

func (p *Provider) postForm(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("instagram request failed: %s: %s", resp.Status, string(b))
	}
	var res idResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("instagram decode response: %w", err)
	}
	if res.ID == "" {
		return "", errors.New("instagram: empty id in response")
	}
	return res.ID, nil
}

// Send creates a media container for the first attachment with the text as
// caption, then publishes it. Extra attachments are dropped with a warning.
func (p *Provider) Send(ctx context.Context, text string, attachments []string, creds provider.Credentials) (string, error) {
	if !p.Validate(creds) {
		return "", errors.New("instagram: invalid credentials")
	}
	if len(attachments) == 0 {
		return "", errors.New("instagram: at least one image attachment is required")
	}
	if len(attachments) > 1 {
		slog.Warn("instagram single-image publish; dropping extra attachments",
			slog.Int("dropped", len(attachments)-1), slog.String("component", "instagram"))
	}
	userID := creds["ig_user_id"]
	token := creds["access_token"]

	form := url.Values{}
	form.Set("image_url", attachments[0])
	form.Set("caption", text)
	form.Set("access_token", token)
	containerID, err := p.postForm(ctx, p.base()+"/"+url.PathEscape(userID)+"/media", form)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	pub := url.Values{}
	pub.Set("creation_id", containerID)
	pub.Set("access_token", token)
	mediaID, err := p.postForm(ctx, p.base()+"/"+url.PathEscape(userID)+"/media_publish", pub)
	if err != nil {
		return "", fmt.Errorf("publish container: %w", err)
	}
	return mediaID, nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

// Performance reads media insights for a published post.
func (p *Provider) Performance(ctx context.Context, remoteID string, creds provider.Credentials) (provider.Metrics, error) {
	if remoteID == "" {
		return nil, errors.New("instagram: empty remote id")
	}
	if !p.Validate(creds) {
		return nil, errors.New("instagram: invalid credentials")
	}
	endpoint := p.base() + "/" + url.PathEscape(remoteID) + "/insights"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("metric", "impressions,reach,likes,comments,saved")
	q.Set("access_token", creds["access_token"])
	req.URL.RawQuery = q.Encode()
	resp, err := p.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("instagram insights: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("instagram insights failed: %s: %s", resp.Status, string(b))
	}
	var res insightsResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("instagram decode insights: %w", err)
	}
	metrics := provider.Metrics{}
	for _, m := range res.Data {
		if len(m.Values) > 0 {
			metrics[m.Name] = m.Values[0].Value
		}
	}
	return metrics, nil
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// RefreshLongLivedToken exchanges a long-lived token for a fresh one. The
// owning Instagram user id must be known; without it the refresh is not
// attempted.
func (p *Provider) RefreshLongLivedToken(ctx context.Context, userID, token string) (string, error) {
	if userID == "" {
		return "", errors.New("instagram: missing ig_user_id for token refresh")
	}
	if token == "" {
		return "", errors.New("instagram: missing access token for refresh")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base()+"/refresh_access_token", nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", token)
	req.URL.RawQuery = q.Encode()
	resp, err := p.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("instagram token refresh: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("instagram token refresh failed: %s: %s", resp.Status, string(b))
	}
	var res refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("instagram decode refresh: %w", err)
	}
	if res.AccessToken == "" {
		return "", errors.New("instagram: empty access token in refresh response")
	}
	return res.AccessToken, nil
}
