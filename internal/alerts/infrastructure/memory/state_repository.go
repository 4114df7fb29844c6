package memory

import (
	"context"
	"sync"

	alerts "fleetpulse/internal/alerts/domain"
)

// StateRepository is an in-memory evaluation state store for demos/tests.
type StateRepository struct {
	mu   sync.RWMutex
	data map[string]alerts.EvaluationState
}

// NewStateRepository constructs a repository.
func NewStateRepository() *StateRepository {
	return &StateRepository{data: make(map[string]alerts.EvaluationState)}
}

// Get fetches evaluation state for one pair. Returns nil when absent.
func (r *StateRepository) Get(ctx context.Context, alertID, deviceID string) (*alerts.EvaluationState, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.data[alertID+"|"+deviceID]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

// Upsert stores evaluation state for one pair.
func (r *StateRepository) Upsert(ctx context.Context, state *alerts.EvaluationState) error {
	_ = ctx
	r.mu.Lock()
	r.data[state.AlertID+"|"+state.DeviceID] = *state
	r.mu.Unlock()
	return nil
}

// ClearByAlert deletes all evaluation state belonging to an alert.
func (r *StateRepository) ClearByAlert(ctx context.Context, alertID string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, state := range r.data {
		if state.AlertID == alertID {
			delete(r.data, key)
		}
	}
	return nil
}
