package application

import (
	"errors"
	"sync"
	"time"

	devices "fleetpulse/internal/devices/domain"
	"fleetpulse/internal/scoring"
)

// DefaultOnlineTimeout is twice the expected 60s heartbeat interval.
const DefaultOnlineTimeout = 2 * time.Minute

// StateStore owns per-device tracking state. Mutations are last-write-wins by
// heartbeat arrival timestamp; a heartbeat older than the stored last_seen
// never overwrites newer state.
type StateStore struct {
	mu      sync.RWMutex
	states  map[string]*devices.State
	scorer  *scoring.Scorer
	timeout time.Duration
}

// StateStoreOption customizes the store.
type StateStoreOption func(*StateStore)

// WithOnlineTimeout overrides the heartbeat recency window.
func WithOnlineTimeout(timeout time.Duration) StateStoreOption {
	return func(s *StateStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewStateStore constructs a state store.
func NewStateStore(scorer *scoring.Scorer, opts ...StateStoreOption) (*StateStore, error) {
	if scorer == nil {
		return nil, errors.New("state store: nil scorer")
	}
	store := &StateStore{
		states:  make(map[string]*devices.State),
		scorer:  scorer,
		timeout: DefaultOnlineTimeout,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// OnlineTimeout returns the configured recency window.
func (s *StateStore) OnlineTimeout() time.Duration {
	return s.timeout
}

// ApplyHeartbeat records one scored heartbeat. It returns the resulting
// snapshot, whether the previous status or online flag changed, and whether
// the heartbeat was applied at all (false when its arrival timestamp is older
// than the stored last_seen).
func (s *StateStore) ApplyHeartbeat(deviceID string, result scoring.Result, at time.Time) (devices.Snapshot, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[deviceID]
	if !ok {
		state = &devices.State{DeviceID: deviceID}
		s.states[deviceID] = state
	}
	prev := s.snapshotLocked(state, at)

	if ok && at.Before(state.LastSeen) {
		return prev, false, false
	}

	state.HealthScore = result.Score
	state.LastSeen = at
	state.Connected = result.Status != scoring.StatusOffline
	state.Online = state.Connected
	state.UpdatedAt = at

	next := s.snapshotLocked(state, at)
	changed := !ok || prev.Status != next.Status || prev.Online != next.Online
	return next, changed, true
}

// Get returns the current snapshot, deriving the online flag from recency.
func (s *StateStore) Get(deviceID string, now time.Time) (devices.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[deviceID]
	if !ok {
		return devices.Snapshot{}, devices.ErrNotFound
	}
	if state.Online && now.Sub(state.LastSeen) > s.timeout {
		state.Online = false
	}
	return s.snapshotLocked(state, now), nil
}

// MarkOfflineByRecency flips devices whose last heartbeat is older than the
// timeout and returns the ids that transitioned on this sweep.
func (s *StateStore) MarkOfflineByRecency(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newlyOffline []string
	for id, state := range s.states {
		if state.Online && now.Sub(state.LastSeen) > s.timeout {
			state.Online = false
			state.UpdatedAt = now
			newlyOffline = append(newlyOffline, id)
		}
	}
	return newlyOffline
}

// Restore seeds a device's state, e.g. from persisted rows at startup.
func (s *StateStore) Restore(state devices.State) {
	if state.DeviceID == "" {
		return
	}
	s.mu.Lock()
	copied := state
	s.states[state.DeviceID] = &copied
	s.mu.Unlock()
}

func (s *StateStore) snapshotLocked(state *devices.State, now time.Time) devices.Snapshot {
	online := state.Online && state.Connected && now.Sub(state.LastSeen) <= s.timeout
	status := scoring.StatusOffline
	if online {
		status = s.scorer.Classify(state.HealthScore)
	}
	return devices.Snapshot{
		DeviceID:    state.DeviceID,
		HealthScore: state.HealthScore,
		LastSeen:    state.LastSeen,
		Online:      online,
		Status:      status,
	}
}
