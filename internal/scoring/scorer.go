package scoring

import (
	"fmt"
)

// Status classifies a device by its health score.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// Metrics is one heartbeat's raw metric readings.
type Metrics struct {
	CPUUsage      float64
	RAMUsage      float64
	Temperature   float64
	FreeDiskSpace float64
	DNSLatencyMS  float64
	Connectivity  bool
}

// Validate rejects out-of-range readings. Bad simulator data is surfaced,
// never clamped.
func (m Metrics) Validate() error {
	if m.CPUUsage < 0 || m.CPUUsage > 100 {
		return fmt.Errorf("scoring: cpu_usage %.2f outside [0,100]", m.CPUUsage)
	}
	if m.RAMUsage < 0 || m.RAMUsage > 100 {
		return fmt.Errorf("scoring: ram_usage %.2f outside [0,100]", m.RAMUsage)
	}
	if m.FreeDiskSpace < 0 || m.FreeDiskSpace > 100 {
		return fmt.Errorf("scoring: free_disk_space %.2f outside [0,100]", m.FreeDiskSpace)
	}
	if m.DNSLatencyMS < 0 {
		return fmt.Errorf("scoring: dns_latency %.2f negative", m.DNSLatencyMS)
	}
	return nil
}

// Result is a computed health score with its classification.
type Result struct {
	Score  float64
	Status Status
}

// Scorer computes composite health scores from raw metrics.
type Scorer struct {
	cfg Config
}

// NewScorer constructs a scorer.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Score computes the weighted health score for one sample. Connectivity is a
// hard gate: a disconnected device scores 0 and classifies offline regardless
// of the other metrics.
func (s *Scorer) Score(m Metrics) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}
	if !m.Connectivity {
		return Result{Score: 0, Status: StatusOffline}, nil
	}

	score := (100-m.CPUUsage)*s.cfg.Weights.CPU +
		(100-m.RAMUsage)*s.cfg.Weights.RAM +
		s.TemperatureSubScore(m.Temperature)*s.cfg.Weights.Temperature +
		m.FreeDiskSpace*s.cfg.Weights.Disk +
		100*s.cfg.Weights.Connectivity

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Result{Score: score, Status: s.Classify(score)}, nil
}

// Classify maps a score to a status using the fixed cutoffs. Offline is never
// returned here; it is derived from connectivity and heartbeat recency.
func (s *Scorer) Classify(score float64) Status {
	switch {
	case score >= s.cfg.Thresholds.HealthyScore:
		return StatusHealthy
	case score >= s.cfg.Thresholds.WarningScore:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// TemperatureSubScore maps temperature to a 0-100 sub-score: 100 at or below
// the safe threshold, 0 at or above the critical threshold, linear between.
func (s *Scorer) TemperatureSubScore(tempC float64) float64 {
	safe, crit := s.cfg.Thresholds.SafeTempC, s.cfg.Thresholds.CriticalTempC
	switch {
	case tempC <= safe:
		return 100
	case tempC >= crit:
		return 0
	default:
		return 100 * (crit - tempC) / (crit - safe)
	}
}

// DNSLatencySubScore maps dns latency to a 0-100 sub-score with a linear
// penalty capped at the configured ceiling. It carries no weight in the
// composite score; alert conditions compare against the raw latency.
func (s *Scorer) DNSLatencySubScore(latencyMS float64) float64 {
	if latencyMS >= s.cfg.Thresholds.LatencyCeilMS {
		return 0
	}
	if latencyMS < 0 {
		return 0
	}
	return 100 - 100*latencyMS/s.cfg.Thresholds.LatencyCeilMS
}
