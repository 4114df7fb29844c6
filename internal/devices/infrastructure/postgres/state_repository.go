package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "fleetpulse/internal/devices/domain"
)

// StateRepository persists per-device tracking state so the in-memory store
// can be reseeded across restarts.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository constructs a repository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Upsert inserts or updates a device state row.
func (r *StateRepository) Upsert(ctx context.Context, state devices.State) error {
	if r == nil || r.db == nil {
		return errors.New("device state repo: nil db")
	}
	if state.DeviceID == "" {
		return errors.New("device state repo: empty device id")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO device_states (
	device_id, health_score, last_seen, connected, online, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (device_id)
DO UPDATE SET
	health_score = EXCLUDED.health_score,
	last_seen = EXCLUDED.last_seen,
	connected = EXCLUDED.connected,
	online = EXCLUDED.online,
	updated_at = EXCLUDED.updated_at
WHERE device_states.last_seen <= EXCLUDED.last_seen`,
		state.DeviceID,
		state.HealthScore,
		state.LastSeen.UTC(),
		state.Connected,
		state.Online,
		state.UpdatedAt.UTC(),
	)
	return err
}

// List loads all device state rows.
func (r *StateRepository) List(ctx context.Context) ([]devices.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device state repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_id, health_score, last_seen, connected, online, updated_at
FROM device_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []devices.State
	for rows.Next() {
		var state devices.State
		if err := rows.Scan(
			&state.DeviceID,
			&state.HealthScore,
			&state.LastSeen,
			&state.Connected,
			&state.Online,
			&state.UpdatedAt,
		); err != nil {
			return nil, err
		}
		state.LastSeen = state.LastSeen.UTC()
		state.UpdatedAt = state.UpdatedAt.UTC()
		states = append(states, state)
	}
	return states, rows.Err()
}
