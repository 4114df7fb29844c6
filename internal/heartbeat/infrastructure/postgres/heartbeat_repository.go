package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	heartbeat "fleetpulse/internal/heartbeat/domain"
)

// HeartbeatRepository stores accepted samples for history queries.
type HeartbeatRepository struct {
	db *sql.DB
}

// NewHeartbeatRepository constructs a repository.
func NewHeartbeatRepository(db *sql.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

// Insert appends one sample with its computed health score.
func (r *HeartbeatRepository) Insert(ctx context.Context, sample heartbeat.Sample, score float64) error {
	if r == nil || r.db == nil {
		return errors.New("heartbeat repo: nil db")
	}
	if sample.ID == "" || sample.DeviceID == "" {
		return errors.New("heartbeat repo: missing id or device id")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO heartbeats (
	id, device_id, cpu_usage, ram_usage, temperature, free_disk_space,
	dns_latency, connectivity, health_score, boot_timestamp, received_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)`,
		sample.ID,
		sample.DeviceID,
		sample.CPUUsage,
		sample.RAMUsage,
		sample.Temperature,
		sample.FreeDiskSpace,
		sample.DNSLatencyMS,
		sample.Connectivity,
		score,
		nullTime(sample.BootAt),
		sample.ArrivedAt.UTC(),
	)
	return err
}

// ListByDevice returns the newest samples for a device, newest first.
func (r *HeartbeatRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]heartbeat.Sample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("heartbeat repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, cpu_usage, ram_usage, temperature, free_disk_space,
	dns_latency, connectivity, boot_timestamp, received_at
FROM heartbeats
WHERE device_id = $1
ORDER BY received_at DESC
LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []heartbeat.Sample
	for rows.Next() {
		var sample heartbeat.Sample
		var bootAt sql.NullTime
		if err := rows.Scan(
			&sample.ID,
			&sample.DeviceID,
			&sample.CPUUsage,
			&sample.RAMUsage,
			&sample.Temperature,
			&sample.FreeDiskSpace,
			&sample.DNSLatencyMS,
			&sample.Connectivity,
			&bootAt,
			&sample.ArrivedAt,
		); err != nil {
			return nil, err
		}
		if bootAt.Valid {
			sample.BootAt = bootAt.Time.UTC()
		}
		sample.ArrivedAt = sample.ArrivedAt.UTC()
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// DeleteOlderThan prunes history past the retention window and returns the
// number of rows removed.
func (r *HeartbeatRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("heartbeat repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM heartbeats WHERE received_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
