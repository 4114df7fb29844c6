package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "fleetpulse/internal/devices/domain"
)

// DeviceRepository is a Postgres repository for registered devices.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetByID loads a device by id. Returns nil when the device does not exist.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, location, serial_number, user_id, last_seen, created_at, updated_at
FROM devices
WHERE id = $1
LIMIT 1`, id)

	var device devices.Device
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.Name,
		&device.Location,
		&device.SerialNumber,
		&device.UserID,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		device.LastSeen = lastSeen.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

// Create inserts a device.
func (r *DeviceRepository) Create(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = device.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (
	id, name, location, serial_number, user_id, last_seen, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, device.ID, device.Name, device.Location, device.SerialNumber, device.UserID,
		nullTime(device.LastSeen), device.CreatedAt, device.UpdatedAt)
	return err
}

// UpdateLastSeen records the latest heartbeat arrival for a device.
func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE devices
SET last_seen = $2, updated_at = $2
WHERE id = $1 AND (last_seen IS NULL OR last_seen <= $2)`, id, at.UTC())
	return err
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
