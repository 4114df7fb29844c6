package events

import "time"

// Event type tags carried on the wire envelope.
const (
	TypeHeartbeat      = "heartbeat"
	TypeDeviceStatus   = "device_status"
	TypeAlertTriggered = "alert_triggered"
	TypeAlertCleared   = "alert_cleared"
)

// HeartbeatEvent is published once per accepted heartbeat.
type HeartbeatEvent struct {
	DeviceID      string    `json:"device_id"`
	HealthScore   float64   `json:"health_score"`
	CPUUsage      float64   `json:"cpu_usage"`
	RAMUsage      float64   `json:"ram_usage"`
	Temperature   float64   `json:"temperature"`
	FreeDiskSpace float64   `json:"free_disk_space"`
	DNSLatencyMS  float64   `json:"dns_latency"`
	Connectivity  bool      `json:"connectivity"`
	Timestamp     time.Time `json:"timestamp"`
}

// DeviceStatusEvent is published when a device's status or online flag
// changes, including offline transitions found by the recency sweep.
type DeviceStatusEvent struct {
	DeviceID    string    `json:"device_id"`
	IsOnline    bool      `json:"is_online"`
	Status      string    `json:"status"`
	HealthScore float64   `json:"health_score"`
	LastSeen    time.Time `json:"last_seen"`
}

// AlertTriggeredEvent is published once per Triggered transition.
type AlertTriggeredEvent struct {
	AlertID     string    `json:"alert_id"`
	AlertName   string    `json:"alert_name"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AlertClearedEvent is published when a firing alert's condition resolves.
type AlertClearedEvent struct {
	AlertID    string    `json:"alert_id"`
	AlertName  string    `json:"alert_name"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	ClearedAt  time.Time `json:"cleared_at"`
}
