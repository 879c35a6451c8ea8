// Package testutil provides an in-memory persistence gateway fake and a mock
// platform HTTP server for tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wrenlabs/syndicate/db"
	"github.com/wrenlabs/syndicate/provider"
)

// MarkCall records one MarkDelivered invocation.
type MarkCall struct {
	PostID      int64
	NetworkID   int64
	ContentID   int64
	RemoteID    *string
	PublishedAt time.Time
}

// CredCall records one UpsertCredential invocation.
type CredCall struct {
	NetworkID int64
	Name      string
	Value     string
}

// FakeStore is an in-memory stand-in for db.Store. MarkDelivered mutates the
// held delivery rows so consecutive FindDueDeliveries calls observe
// terminality the way the real gateway does.
type FakeStore struct {
	mu sync.Mutex

	Deliveries []db.ScheduledDelivery
	Tracked    map[string][]db.TrackedDelivery
	Creds      map[int64]provider.Credentials
	Networks   map[string][]int64
	KV         map[string]string

	// Error injection
	FindDueErr  error
	MarkErr     error
	CredsErr    error
	TrackedErr  error
	NetworksErr error

	Marks         []MarkCall
	UpsertedCreds []CredCall
}

// NewFakeStore returns an empty fake.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Tracked:  map[string][]db.TrackedDelivery{},
		Creds:    map[int64]provider.Credentials{},
		Networks: map[string][]int64{},
		KV:       map[string]string{},
	}
}

// AddDelivery appends a delivery row.
func (f *FakeStore) AddDelivery(d db.ScheduledDelivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deliveries = append(f.Deliveries, d)
}

// FindDueDeliveries filters held rows by the due predicate and orders them by
// scheduled time ascending.
func (f *FakeStore) FindDueDeliveries(ctx context.Context, now time.Time) ([]db.ScheduledDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindDueErr != nil {
		return nil, f.FindDueErr
	}
	var due []db.ScheduledDelivery
	for _, d := range f.Deliveries {
		if d.ScheduledAt.Valid && !d.ScheduledAt.Time.After(now) && !d.PublishedAt.Valid && !d.RemoteID.Valid {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Time.Before(due[j].ScheduledAt.Time) })
	return due, nil
}

// MarkDelivered records the call and applies the terminal state to the row.
func (f *FakeStore) MarkDelivered(ctx context.Context, postID, networkID, contentID int64, remoteID *string, publishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MarkErr != nil {
		return f.MarkErr
	}
	f.Marks = append(f.Marks, MarkCall{PostID: postID, NetworkID: networkID, ContentID: contentID, RemoteID: remoteID, PublishedAt: publishedAt})
	for i := range f.Deliveries {
		d := &f.Deliveries[i]
		if d.PostID == postID && d.NetworkID == networkID && d.ContentID == contentID {
			d.PublishedAt = sql.NullTime{Time: publishedAt, Valid: true}
			if remoteID != nil {
				d.RemoteID = sql.NullString{String: *remoteID, Valid: true}
			} else {
				d.RemoteID = sql.NullString{}
			}
		}
	}
	return nil
}

// FindTrackedDeliveries returns the configured tracked rows for a type.
func (f *FakeStore) FindTrackedDeliveries(ctx context.Context, networkType string, since time.Time) ([]db.TrackedDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TrackedErr != nil {
		return nil, f.TrackedErr
	}
	var out []db.TrackedDelivery
	for _, d := range f.Tracked[networkType] {
		if !d.PublishedAt.Before(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetCredentials returns the configured credential set (empty when unknown).
func (f *FakeStore) GetCredentials(ctx context.Context, networkID int64) (provider.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CredsErr != nil {
		return nil, f.CredsErr
	}
	creds, ok := f.Creds[networkID]
	if !ok {
		return provider.Credentials{}, nil
	}
	out := provider.Credentials{}
	for k, v := range creds {
		out[k] = v
	}
	return out, nil
}

// UpsertCredential records the call and applies it.
func (f *FakeStore) UpsertCredential(ctx context.Context, networkID int64, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpsertedCreds = append(f.UpsertedCreds, CredCall{NetworkID: networkID, Name: name, Value: value})
	if f.Creds[networkID] == nil {
		f.Creds[networkID] = provider.Credentials{}
	}
	f.Creds[networkID][name] = value
	return nil
}

// ListNetworksByType returns the configured network ids for a type.
func (f *FakeStore) ListNetworksByType(ctx context.Context, networkType string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NetworksErr != nil {
		return nil, f.NetworksErr
	}
	return append([]int64(nil), f.Networks[networkType]...), nil
}

// GetKV reads a marker.
func (f *FakeStore) GetKV(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.KV[key], nil
}

// SetKV writes a marker.
func (f *FakeStore) SetKV(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.KV[key] = value
	return nil
}

// ErrInjected is a reusable sentinel for error-injection tests.
var ErrInjected = errors.New("injected failure")
