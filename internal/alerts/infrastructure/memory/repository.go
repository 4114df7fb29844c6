package memory

import (
	"context"
	"sync"

	alerts "fleetpulse/internal/alerts/domain"
)

// DefinitionRepository is an in-memory alert store for demos/tests.
type DefinitionRepository struct {
	mu   sync.RWMutex
	data map[string]alerts.Definition
}

// NewDefinitionRepository constructs a repository.
func NewDefinitionRepository() *DefinitionRepository {
	return &DefinitionRepository{data: make(map[string]alerts.Definition)}
}

// Put stores a definition.
func (r *DefinitionRepository) Put(definition alerts.Definition) error {
	if err := definition.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.data[definition.ID] = definition
	r.mu.Unlock()
	return nil
}

// GetByID loads a definition. Returns nil when missing.
func (r *DefinitionRepository) GetByID(ctx context.Context, alertID string) (*alerts.Definition, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	definition, ok := r.data[alertID]
	if !ok {
		return nil, nil
	}
	copied := definition
	return &copied, nil
}

// ListActiveByDevice returns active definitions targeting a device.
func (r *DefinitionRepository) ListActiveByDevice(ctx context.Context, deviceID string) ([]alerts.Definition, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []alerts.Definition
	for _, definition := range r.data {
		if definition.DeviceID == deviceID && definition.Active {
			result = append(result, definition)
		}
	}
	return result, nil
}

// SetActive flips a definition's active flag.
func (r *DefinitionRepository) SetActive(ctx context.Context, alertID string, active bool) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	definition, ok := r.data[alertID]
	if !ok {
		return alerts.ErrNotFound
	}
	definition.Active = active
	r.data[alertID] = definition
	return nil
}
