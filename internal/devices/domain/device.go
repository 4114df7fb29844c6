package devices

import (
	"errors"
	"time"

	"fleetpulse/internal/scoring"
)

// ErrNotFound indicates a missing device record.
var ErrNotFound = errors.New("device: not found")

// Device is a registered device and its owner.
type Device struct {
	ID           string
	Name         string
	Location     string
	SerialNumber string
	UserID       string
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.Name == "" {
		return errors.New("device: empty name")
	}
	if d.UserID == "" {
		return errors.New("device: empty user id")
	}
	return nil
}

// State is the mutable per-device tracking state. Connected holds the
// connectivity flag of the last accepted heartbeat; Online is the last
// derived online flag, refreshed on apply, read and sweep.
type State struct {
	DeviceID    string
	HealthScore float64
	LastSeen    time.Time
	Connected   bool
	Online      bool
	UpdatedAt   time.Time
}

// Snapshot is an immutable view of device state with the derived status.
type Snapshot struct {
	DeviceID    string
	HealthScore float64
	LastSeen    time.Time
	Online      bool
	Status      scoring.Status
}
