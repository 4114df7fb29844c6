package application

import (
	"context"
	"errors"
	"sync"
	"time"

	alerts "fleetpulse/internal/alerts/domain"
)

// DefinitionRepository provides read access to alert definitions.
type DefinitionRepository interface {
	ListActiveByDevice(ctx context.Context, deviceID string) ([]alerts.Definition, error)
}

// Registry serves active alert definitions per device with a short TTL cache.
// Alert create/update/delete must call Invalidate; the cache otherwise
// refreshes on expiry.
type Registry struct {
	repo DefinitionRepository
	ttl  time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	definitions []alerts.Definition
	loadedAt    time.Time
}

// DefaultRegistryTTL bounds staleness of cached alert definitions.
const DefaultRegistryTTL = 30 * time.Second

// RegistryOption customizes the registry.
type RegistryOption func(*Registry)

// WithTTL overrides the cache TTL. Zero disables caching.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// NewRegistry constructs a registry.
func NewRegistry(repo DefinitionRepository, opts ...RegistryOption) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("alert registry: nil repository")
	}
	registry := &Registry{
		repo:  repo,
		ttl:   DefaultRegistryTTL,
		cache: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry, nil
}

// GetActiveAlerts returns the active definitions targeting a device.
func (r *Registry) GetActiveAlerts(ctx context.Context, deviceID string) ([]alerts.Definition, error) {
	if deviceID == "" {
		return nil, errors.New("alert registry: empty device id")
	}
	if r.ttl > 0 {
		r.mu.Lock()
		entry, ok := r.cache[deviceID]
		r.mu.Unlock()
		if ok && time.Since(entry.loadedAt) < r.ttl {
			return entry.definitions, nil
		}
	}

	definitions, err := r.repo.ListActiveByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[deviceID] = cacheEntry{definitions: definitions, loadedAt: time.Now()}
		r.mu.Unlock()
	}
	return definitions, nil
}

// Invalidate drops the cached definitions for a device.
func (r *Registry) Invalidate(deviceID string) {
	r.mu.Lock()
	delete(r.cache, deviceID)
	r.mu.Unlock()
}
