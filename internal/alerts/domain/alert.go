package alerts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Operator compares a sample value against a condition threshold.
type Operator string

const (
	OperatorGreater        Operator = "gt"
	OperatorGreaterOrEqual Operator = "gte"
	OperatorLess           Operator = "lt"
	OperatorLessOrEqual    Operator = "lte"
	OperatorEqual          Operator = "eq"
)

// Valid returns true when the operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual, OperatorEqual:
		return true
	default:
		return false
	}
}

// Metric names a heartbeat field an alert condition can test.
type Metric string

const (
	MetricCPUUsage      Metric = "cpu_usage"
	MetricRAMUsage      Metric = "ram_usage"
	MetricTemperature   Metric = "temperature"
	MetricFreeDiskSpace Metric = "free_disk_space"
	MetricDNSLatency    Metric = "dns_latency"
	MetricConnectivity  Metric = "connectivity"
	MetricHealthScore   Metric = "health_score"
)

// Valid returns true when the metric is known.
func (m Metric) Valid() bool {
	switch m {
	case MetricCPUUsage, MetricRAMUsage, MetricTemperature, MetricFreeDiskSpace,
		MetricDNSLatency, MetricConnectivity, MetricHealthScore:
		return true
	default:
		return false
	}
}

// Condition is a single metric/operator/threshold comparison. Connectivity
// thresholds are encoded as 1 (true) or 0 (false).
type Condition struct {
	Metric   Metric   `json:"metric"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// UnmarshalJSON accepts boolean threshold values for connectivity conditions.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Metric   Metric          `json:"metric"`
		Operator Operator        `json:"operator"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Metric = raw.Metric
	c.Operator = raw.Operator
	if len(raw.Value) == 0 {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw.Value, &b); err == nil {
		c.Value = 0
		if b {
			c.Value = 1
		}
		return nil
	}
	return json.Unmarshal(raw.Value, &c.Value)
}

// Definition is a user-defined alert rule for one device. Conditions combine
// with logical AND; the duration requirement applies to the compound result.
type Definition struct {
	ID              string
	Name            string
	Description     string
	DeviceID        string
	UserID          string
	Conditions      []Condition
	DurationMinutes int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Duration returns the sustained-true requirement; zero fires on the first
// true sample.
func (d Definition) Duration() time.Duration {
	if d.DurationMinutes <= 0 {
		return 0
	}
	return time.Duration(d.DurationMinutes) * time.Minute
}

// Validate checks definition invariants.
func (d Definition) Validate() error {
	if d.ID == "" {
		return errors.New("alert: empty id")
	}
	if d.Name == "" {
		return errors.New("alert: empty name")
	}
	if d.DeviceID == "" {
		return errors.New("alert: empty device id")
	}
	if d.UserID == "" {
		return errors.New("alert: empty user id")
	}
	if len(d.Conditions) == 0 {
		return errors.New("alert: no conditions")
	}
	if d.DurationMinutes < 0 {
		return errors.New("alert: negative duration")
	}
	for i, cond := range d.Conditions {
		if !cond.Metric.Valid() {
			return fmt.Errorf("alert: condition %d: unknown metric %q", i, cond.Metric)
		}
		if !cond.Operator.Valid() {
			return fmt.Errorf("alert: condition %d: unknown operator %q", i, cond.Operator)
		}
	}
	return nil
}
