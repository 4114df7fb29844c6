package auth

import (
	"context"
	"database/sql"
	"errors"

	devicerepo "fleetpulse/internal/devices/infrastructure/postgres"
)

var (
	// ErrOwnerMismatch indicates the device belongs to another user.
	ErrOwnerMismatch = errors.New("owner mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// DeviceOwnerChecker validates device ownership.
type DeviceOwnerChecker interface {
	EnsureDeviceOwner(ctx context.Context, userID, deviceID string) error
}

// OwnerChecker checks device ownership against the registry.
type OwnerChecker struct {
	repo *devicerepo.DeviceRepository
}

// NewOwnerChecker constructs an OwnerChecker.
func NewOwnerChecker(db *sql.DB) *OwnerChecker {
	if db == nil {
		return nil
	}
	return &OwnerChecker{repo: devicerepo.NewDeviceRepository(db)}
}

// EnsureDeviceOwner verifies the device belongs to the user.
func (c *OwnerChecker) EnsureDeviceOwner(ctx context.Context, userID, deviceID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if userID == "" || deviceID == "" {
		return nil
	}
	device, err := c.repo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return ErrNotFound
	}
	if device.UserID != userID {
		return ErrOwnerMismatch
	}
	return nil
}
