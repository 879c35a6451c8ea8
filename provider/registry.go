package provider

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry maps network types to providers. Lookup is case-insensitive and
// registration may happen at runtime, so access is mutex-guarded. Construct one
// at process start and pass it to the scheduler, collector, and credential
// managers; there is no package-level instance.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register inserts p under its lowercased network type, overwriting any
// existing provider for that type. A nil provider is a no-op.
func (r *Registry) Register(p Provider) {
	if p == nil {
		slog.Warn("ignoring nil provider registration")
		return
	}
	key := strings.ToLower(p.NetworkType())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[key]; exists {
		slog.Info("overwriting registered provider", slog.String("network_type", key))
	}
	r.providers[key] = p
}

// Get returns the provider for networkType (case-insensitive) or nil when the
// type is unknown. The empty string is never a valid type.
func (r *Registry) Get(networkType string) Provider {
	key := strings.ToLower(networkType)
	if key == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[key]
}

// List returns all registered providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for key, p := range r.providers {
		if key == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SupportedTypes returns the registered network types, sorted for stable output.
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for key := range r.providers {
		if key == "" {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// IsSupported reports whether a provider is registered for networkType.
func (r *Registry) IsSupported(networkType string) bool {
	return r.Get(networkType) != nil
}
