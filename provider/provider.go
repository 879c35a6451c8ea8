// Package provider defines the capability contract every social platform
// integration implements, plus the registry used to look integrations up by
// network type. Platform packages (mastodonapi, instagramapi, telegramapi,
// youtubeapi) each expose one Provider.
package provider

import (
	"context"
	"time"
)

// Credentials is the name→value secret set stored for one network.
type Credentials map[string]string

// Metrics is one engagement observation keyed by metric name.
type Metrics map[string]int64

// Provider is the fixed capability set of one social platform.
//
// Send and Performance return errors for transport and API failures; callers
// (the publishing scheduler and the performance collector) convert those into
// terminal-failure or skip decisions rather than aborting their batch. A
// provider must never make a network call for credentials its Validate would
// reject.
type Provider interface {
	// NetworkType returns the stable lowercase platform identifier.
	NetworkType() string

	// RequiredFields lists credential names that must be present and non-empty
	// for this platform, in a stable order.
	RequiredFields() []string

	// Validate reports whether creds contains every required field with a
	// non-empty value. It fails closed: a nil map is always invalid.
	Validate(creds Credentials) bool

	// Send publishes text (and platform-supported attachments) and returns the
	// platform-assigned post identifier. Attachment handling is platform
	// specific; providers that cannot carry every attachment publish the
	// supported subset and log what was dropped.
	Send(ctx context.Context, text string, attachments []string, creds Credentials) (string, error)

	// Performance fetches engagement metrics for a previously published post.
	// Platforms that expose no usable metrics return a zero-valued Metrics
	// (never nil) so callers can tell "unsupported" from "rejected".
	Performance(ctx context.Context, remoteID string, creds Credentials) (Metrics, error)

	// MonitoringInterval is the polling cadence for the performance collector.
	// Rate-limited platforms declare a larger interval.
	MonitoringInterval() time.Duration
}

// ValidateFields is the shared fail-closed check used by provider
// implementations: every field must exist in creds with a non-empty value.
func ValidateFields(creds Credentials, fields []string) bool {
	if creds == nil {
		return false
	}
	for _, f := range fields {
		if creds[f] == "" {
			return false
		}
	}
	return true
}
