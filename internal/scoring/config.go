package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights defines the contribution of each metric to the composite score.
// They must sum to 1. DNS latency carries no weight; its sub-score feeds
// alert conditions and event payloads only.
type Weights struct {
	CPU          float64 `yaml:"cpu"`
	RAM          float64 `yaml:"ram"`
	Temperature  float64 `yaml:"temperature"`
	Disk         float64 `yaml:"disk"`
	Connectivity float64 `yaml:"connectivity"`
}

// Thresholds defines curve endpoints and classification cutoffs.
type Thresholds struct {
	SafeTempC     float64 `yaml:"safe_temp_c"`
	CriticalTempC float64 `yaml:"critical_temp_c"`
	LatencyCeilMS float64 `yaml:"latency_ceiling_ms"`
	HealthyScore  float64 `yaml:"healthy_score"`
	WarningScore  float64 `yaml:"warning_score"`
}

// Config defines health scoring configuration.
type Config struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			CPU:          0.25,
			RAM:          0.25,
			Temperature:  0.30,
			Disk:         0.15,
			Connectivity: 0.05,
		},
		Thresholds: Thresholds{
			SafeTempC:     60,
			CriticalTempC: 90,
			LatencyCeilMS: 500,
			HealthyScore:  80,
			WarningScore:  60,
		},
	}
}

// LoadConfig loads scoring config from the yaml file at path, or defaults
// when path is empty.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("SCORING_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks config invariants.
func (c Config) Validate() error {
	sum := c.Weights.CPU + c.Weights.RAM + c.Weights.Temperature + c.Weights.Disk + c.Weights.Connectivity
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("scoring: weights sum to %.3f, want 1.0", sum)
	}
	if c.Thresholds.CriticalTempC <= c.Thresholds.SafeTempC {
		return errors.New("scoring: critical temp must exceed safe temp")
	}
	if c.Thresholds.LatencyCeilMS <= 0 {
		return errors.New("scoring: latency ceiling must be positive")
	}
	if c.Thresholds.HealthyScore <= c.Thresholds.WarningScore {
		return errors.New("scoring: healthy cutoff must exceed warning cutoff")
	}
	return nil
}
