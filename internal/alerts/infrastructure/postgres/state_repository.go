package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "fleetpulse/internal/alerts/domain"
)

// StateRepository stores per-(alert, device) evaluation state.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository constructs a repository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get fetches evaluation state for one pair. Returns nil when absent.
func (r *StateRepository) Get(ctx context.Context, alertID, deviceID string) (*alerts.EvaluationState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert state repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT alert_id, device_id, phase, condition_true_since, last_triggered, trigger_count, updated_at
FROM alert_evaluation_states
WHERE alert_id = $1 AND device_id = $2`, alertID, deviceID)

	var state alerts.EvaluationState
	var phase string
	var trueSince, lastTriggered sql.NullTime
	if err := row.Scan(
		&state.AlertID,
		&state.DeviceID,
		&phase,
		&trueSince,
		&lastTriggered,
		&state.TriggerCount,
		&state.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	state.Phase = alerts.Phase(phase)
	if trueSince.Valid {
		state.ConditionTrueSince = trueSince.Time.UTC()
	}
	if lastTriggered.Valid {
		state.LastTriggered = lastTriggered.Time.UTC()
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	return &state, nil
}

// Upsert inserts or updates evaluation state for one pair.
func (r *StateRepository) Upsert(ctx context.Context, state *alerts.EvaluationState) error {
	if r == nil || r.db == nil {
		return errors.New("alert state repo: nil db")
	}
	if state == nil {
		return errors.New("alert state repo: nil state")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_evaluation_states (
	alert_id, device_id, phase, condition_true_since, last_triggered, trigger_count, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (alert_id, device_id)
DO UPDATE SET
	phase = EXCLUDED.phase,
	condition_true_since = EXCLUDED.condition_true_since,
	last_triggered = EXCLUDED.last_triggered,
	trigger_count = EXCLUDED.trigger_count,
	updated_at = EXCLUDED.updated_at`,
		state.AlertID,
		state.DeviceID,
		string(state.CurrentPhase()),
		nullTime(state.ConditionTrueSince),
		nullTime(state.LastTriggered),
		state.TriggerCount,
		state.UpdatedAt,
	)
	return err
}

// ClearByAlert deletes all evaluation state belonging to an alert.
func (r *StateRepository) ClearByAlert(ctx context.Context, alertID string) error {
	if r == nil || r.db == nil {
		return errors.New("alert state repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM alert_evaluation_states
WHERE alert_id = $1`, alertID)
	return err
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
