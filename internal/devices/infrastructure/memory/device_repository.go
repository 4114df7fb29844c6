package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	devices "fleetpulse/internal/devices/domain"
)

// DeviceRepository is an in-memory device registry for demos/tests.
type DeviceRepository struct {
	mu   sync.RWMutex
	data map[string]devices.Device
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{data: make(map[string]devices.Device)}
}

// Put registers a device.
func (r *DeviceRepository) Put(device devices.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.data[device.ID] = device
	r.mu.Unlock()
	return nil
}

// GetByID loads a device by id. Returns nil when the device does not exist.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*devices.Device, error) {
	_ = ctx
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	copied := device
	return &copied, nil
}

// UpdateLastSeen advances a device's last seen timestamp, never backwards.
func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.data[id]
	if !ok {
		return nil
	}
	if device.LastSeen.Before(at) {
		device.LastSeen = at
		device.UpdatedAt = at
		r.data[id] = device
	}
	return nil
}
