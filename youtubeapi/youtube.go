// Package youtubeapi implements the YouTube provider. A delivery's first
// attachment is uploaded as a video (the text becomes the description, its
// first line the title); extra attachments are dropped with a warning.
// Credentials carry the OAuth client pair and a refresh token, and the oauth2
// token source mints access tokens on demand.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"
	"google.golang.org/api/option"

	"github.com/wrenlabs/syndicate/provider"
)

// NetworkType is the registry key for this provider.
const NetworkType = "youtube"

var requiredFields = []string{"client_id", "client_secret", "refresh_token"}

// Provider uploads videos and reads their statistics via the YouTube Data API.
type Provider struct {
	// Privacy is the upload privacy status; defaults to private.
	Privacy string

	// newService builds the API client from credentials; tests replace it.
	newService func(ctx context.Context, creds provider.Credentials) (*yt.Service, error)
}

// New returns a YouTube provider against the production API.
func New() *Provider {
	return &Provider{newService: newService}
}

func newService(ctx context.Context, creds provider.Credentials) (*yt.Service, error) {
	oc := &oauth2.Config{
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		Endpoint:     google.Endpoint,
		Scopes:       []string{yt.YoutubeUploadScope, yt.YoutubeReadonlyScope},
	}
	tok := &oauth2.Token{RefreshToken: creds["refresh_token"]}
	client := oc.Client(ctx, tok)
	return yt.NewService(ctx, option.WithHTTPClient(client))
}

func (p *Provider) NetworkType() string      { return NetworkType }
func (p *Provider) RequiredFields() []string { return append([]string(nil), requiredFields...) }

// Validate requires the OAuth client pair and a refresh token.
func (p *Provider) Validate(creds provider.Credentials) bool {
	return provider.ValidateFields(creds, requiredFields)
}

// MonitoringInterval is hourly; statistics reads are quota-cheap.
func (p *Provider) MonitoringInterval() time.Duration { return time.Hour }

// titleFromText derives a video title from the first line of the post body,
// respecting YouTube's 100 character title limit.
func titleFromText(text string) string {
	title := text
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled upload"
	}
	if len(title) > 100 {
		title = title[:100]
	}
	return title
}

// Send uploads the first attachment as a video.
func (p *Provider) Send(ctx context.Context, text string, attachments []string, creds provider.Credentials) (string, error) {
	if !p.Validate(creds) {
		return "", errors.New("youtube: invalid credentials")
	}
	if len(attachments) == 0 {
		return "", errors.New("youtube: a video attachment is required")
	}
	if len(attachments) > 1 {
		slog.Warn("youtube uploads one video per delivery; dropping extra attachments",
			slog.Int("dropped", len(attachments)-1), slog.String("component", "youtube"))
	}
	svc, err := p.newService(ctx, creds)
	if err != nil {
		return "", fmt.Errorf("youtube client: %w", err)
	}
	f, err := os.Open(attachments[0])
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close video file", slog.Any("err", err))
		}
	}()
	privacy := p.Privacy
	if privacy == "" {
		privacy = "private"
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{Title: titleFromText(text), Description: text},
		Status:  &yt.VideoStatus{PrivacyStatus: privacy},
	}
	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", errors.New("youtube upload: empty id")
	}
	return res.Id, nil
}

// Performance reads view/like/comment counts for an uploaded video.
func (p *Provider) Performance(ctx context.Context, remoteID string, creds provider.Credentials) (provider.Metrics, error) {
	if remoteID == "" {
		return nil, errors.New("youtube: empty remote id")
	}
	if !p.Validate(creds) {
		return nil, errors.New("youtube: invalid credentials")
	}
	svc, err := p.newService(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}
	res, err := svc.Videos.List([]string{"statistics"}).Id(remoteID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube statistics: %w", err)
	}
	if len(res.Items) == 0 {
		return nil, fmt.Errorf("youtube: video %s not found", remoteID)
	}
	stats := res.Items[0].Statistics
	if stats == nil {
		return provider.Metrics{"views": 0, "likes": 0, "comments": 0}, nil
	}
	return provider.Metrics{
		"views":    int64(stats.ViewCount),    //nolint:gosec // counts fit int64 in practice
		"likes":    int64(stats.LikeCount),    //nolint:gosec
		"comments": int64(stats.CommentCount), //nolint:gosec
	}, nil
}
