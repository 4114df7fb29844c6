package heartbeat

import (
	"errors"
	"fmt"
	"time"

	"fleetpulse/internal/scoring"
)

// ErrValidation marks a heartbeat rejected before any state mutation.
var ErrValidation = errors.New("heartbeat: invalid sample")

// Sample is one periodic telemetry reading from a device. ArrivedAt is
// server-assigned and orders samples; a sample is immutable once created and
// produces exactly one pipeline run.
type Sample struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	CPUUsage      float64   `json:"cpu_usage"`
	RAMUsage      float64   `json:"ram_usage"`
	Temperature   float64   `json:"temperature"`
	FreeDiskSpace float64   `json:"free_disk_space"`
	DNSLatencyMS  float64   `json:"dns_latency"`
	Connectivity  bool      `json:"connectivity"`
	BootAt        time.Time `json:"boot_timestamp"`
	ArrivedAt     time.Time `json:"timestamp"`
}

// Metrics converts the sample's readings for scoring.
func (s Sample) Metrics() scoring.Metrics {
	return scoring.Metrics{
		CPUUsage:      s.CPUUsage,
		RAMUsage:      s.RAMUsage,
		Temperature:   s.Temperature,
		FreeDiskSpace: s.FreeDiskSpace,
		DNSLatencyMS:  s.DNSLatencyMS,
		Connectivity:  s.Connectivity,
	}
}

// Validate checks sample invariants. Out-of-range metrics are rejected, not
// clamped, so bad producer data stays visible.
func (s Sample) Validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrValidation)
	}
	if s.ArrivedAt.IsZero() {
		return fmt.Errorf("%w: missing arrival timestamp", ErrValidation)
	}
	if err := s.Metrics().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
