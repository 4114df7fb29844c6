package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	alerts "fleetpulse/internal/alerts/domain"
)

// AlertRepository is a Postgres repository for alert definitions. Conditions
// are stored as a JSON column.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an alert definition.
func (r *AlertRepository) Create(ctx context.Context, definition *alerts.Definition) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if definition == nil {
		return errors.New("alert repo: nil definition")
	}
	if err := definition.Validate(); err != nil {
		return err
	}
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = time.Now().UTC()
	}
	if definition.UpdatedAt.IsZero() {
		definition.UpdatedAt = definition.CreatedAt
	}
	conditions, err := json.Marshal(definition.Conditions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, name, description, device_id, user_id, conditions,
	duration_minutes, is_active, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10
)`, definition.ID, definition.Name, definition.Description, definition.DeviceID,
		definition.UserID, conditions, definition.DurationMinutes, definition.Active,
		definition.CreatedAt, definition.UpdatedAt)
	return err
}

// GetByID loads a definition by id. Returns nil when missing.
func (r *AlertRepository) GetByID(ctx context.Context, alertID string) (*alerts.Definition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if alertID == "" {
		return nil, errors.New("alert repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, description, device_id, user_id, conditions,
	duration_minutes, is_active, created_at, updated_at
FROM alerts
WHERE id = $1
LIMIT 1`, alertID)
	definition, err := scanDefinition(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return definition, nil
}

// ListActiveByDevice returns active definitions targeting a device.
func (r *AlertRepository) ListActiveByDevice(ctx context.Context, deviceID string) ([]alerts.Definition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("alert repo: empty device id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, description, device_id, user_id, conditions,
	duration_minutes, is_active, created_at, updated_at
FROM alerts
WHERE device_id = $1 AND is_active = TRUE
ORDER BY created_at`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var definitions []alerts.Definition
	for rows.Next() {
		definition, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, *definition)
	}
	return definitions, rows.Err()
}

// SetActive flips a definition's active flag.
func (r *AlertRepository) SetActive(ctx context.Context, alertID string, active bool) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET is_active = $2, updated_at = $3
WHERE id = $1`, alertID, active, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

func scanDefinition(scan func(dest ...any) error) (*alerts.Definition, error) {
	var definition alerts.Definition
	var description sql.NullString
	var conditions []byte
	if err := scan(
		&definition.ID,
		&definition.Name,
		&description,
		&definition.DeviceID,
		&definition.UserID,
		&conditions,
		&definition.DurationMinutes,
		&definition.Active,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if description.Valid {
		definition.Description = description.String
	}
	if err := json.Unmarshal(conditions, &definition.Conditions); err != nil {
		return nil, err
	}
	definition.CreatedAt = definition.CreatedAt.UTC()
	definition.UpdatedAt = definition.UpdatedAt.UTC()
	return &definition, nil
}
