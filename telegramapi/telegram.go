// Package telegramapi implements the Telegram provider on top of the Bot API.
// Deliveries are text-only channel/chat messages; attachments are dropped with
// a warning. The Bot API exposes no per-message engagement for ordinary chats,
// so Performance returns a zero-valued record rather than nil, letting callers
// distinguish "platform has no metrics" from "credentials rejected".
package telegramapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/wrenlabs/syndicate/provider"
)

// NetworkType is the registry key for this provider.
const NetworkType = "telegram"

var requiredFields = []string{"bot_token", "chat_id"}

// sender is the slice of *tele.Bot the provider uses, extracted for tests.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Provider sends messages through the Telegram Bot API.
type Provider struct {
	// newBot builds the API client for a token; tests replace it.
	newBot func(token string) (sender, error)
}

// New returns a Telegram provider backed by telebot.
func New() *Provider {
	return &Provider{
		newBot: func(token string) (sender, error) {
			// Offline skips the getMe probe; sends still hit the live API.
			return tele.NewBot(tele.Settings{Token: token, Offline: true})
		},
	}
}

func (p *Provider) NetworkType() string      { return NetworkType }
func (p *Provider) RequiredFields() []string { return append([]string(nil), requiredFields...) }

// Validate requires a bot token and a destination chat id.
func (p *Provider) Validate(creds provider.Credentials) bool {
	return provider.ValidateFields(creds, requiredFields)
}

// MonitoringInterval is hourly, matching the other unthrottled platforms, even
// though ticks only confirm the post still resolves.
func (p *Provider) MonitoringInterval() time.Duration { return time.Hour }

// Send posts text to the configured chat and returns the message id.
func (p *Provider) Send(ctx context.Context, text string, attachments []string, creds provider.Credentials) (string, error) {
	if !p.Validate(creds) {
		return "", errors.New("telegram: invalid credentials")
	}
	if len(attachments) > 0 {
		slog.Warn("telegram provider sends text only; dropping attachments",
			slog.Int("dropped", len(attachments)), slog.String("component", "telegram"))
	}
	chatID, err := strconv.ParseInt(creds["chat_id"], 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: chat_id must be numeric: %w", err)
	}
	bot, err := p.newBot(creds["bot_token"])
	if err != nil {
		return "", fmt.Errorf("telegram: build bot: %w", err)
	}
	msg, err := bot.Send(tele.ChatID(chatID), text)
	if err != nil {
		return "", fmt.Errorf("telegram: send message: %w", err)
	}
	if msg == nil || msg.ID == 0 {
		return "", errors.New("telegram: empty message id in response")
	}
	return strconv.Itoa(msg.ID), nil
}

// Performance returns a structurally valid zero-valued record; the Bot API has
// no engagement counters for plain messages. Invalid input still yields an
// error so rejected and unsupported stay distinguishable.
func (p *Provider) Performance(ctx context.Context, remoteID string, creds provider.Credentials) (provider.Metrics, error) {
	if remoteID == "" {
		return nil, errors.New("telegram: empty remote id")
	}
	if !p.Validate(creds) {
		return nil, errors.New("telegram: invalid credentials")
	}
	return provider.Metrics{"views": 0, "forwards": 0}, nil
}
