package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"fleetpulse/internal/heartbeat/application"
	heartbeat "fleetpulse/internal/heartbeat/domain"
)

// IngestHandler accepts heartbeat samples over HTTP POST.
type IngestHandler struct {
	pipeline *application.Pipeline
	logger   *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(pipeline *application.Pipeline, logger *log.Logger) (*IngestHandler, error) {
	if pipeline == nil {
		return nil, errors.New("heartbeat ingest: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{pipeline: pipeline, logger: logger}, nil
}

// ServeHTTP decodes one sample, runs the pipeline and reports the outcome.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("heartbeat ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("heartbeat ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	sample, err := req.toSample()
	if err != nil {
		h.logger.Printf("heartbeat ingest: invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), sample)
	if err != nil {
		if errors.Is(err, heartbeat.ErrValidation) {
			h.logger.Printf("heartbeat ingest: rejected: %v", err)
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Printf("heartbeat ingest: pipeline error: %v", err)
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}

	resp := ingestResponse{
		SampleID:    result.Sample.ID,
		HealthScore: result.Score,
		Status:      string(result.Status),
		Applied:     result.Applied,
		Triggered:   len(result.Triggered),
		Cleared:     len(result.Cleared),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

type ingestRequest struct {
	DeviceID      string  `json:"device_id"`
	CPUUsage      float64 `json:"cpu_usage"`
	RAMUsage      float64 `json:"ram_usage"`
	Temperature   float64 `json:"temperature"`
	FreeDiskSpace float64 `json:"free_disk_space"`
	DNSLatencyMS  float64 `json:"dns_latency"`
	Connectivity  bool    `json:"connectivity"`
	BootTimestamp int64   `json:"boot_timestamp"`
	Timestamp     int64   `json:"timestamp"`
	TimestampRFC  string  `json:"timestamp_rfc3339"`
}

type ingestResponse struct {
	SampleID    string  `json:"sample_id"`
	HealthScore float64 `json:"health_score"`
	Status      string  `json:"status"`
	Applied     bool    `json:"applied"`
	Triggered   int     `json:"triggered"`
	Cleared     int     `json:"cleared"`
}

func (r ingestRequest) toSample() (heartbeat.Sample, error) {
	if r.DeviceID == "" {
		return heartbeat.Sample{}, errors.New("missing device_id")
	}
	sample := heartbeat.Sample{
		DeviceID:      r.DeviceID,
		CPUUsage:      r.CPUUsage,
		RAMUsage:      r.RAMUsage,
		Temperature:   r.Temperature,
		FreeDiskSpace: r.FreeDiskSpace,
		DNSLatencyMS:  r.DNSLatencyMS,
		Connectivity:  r.Connectivity,
	}
	if r.BootTimestamp > 0 {
		bootAt, err := parseTimestamp(r.BootTimestamp)
		if err != nil {
			return heartbeat.Sample{}, err
		}
		sample.BootAt = bootAt
	}
	switch {
	case r.TimestampRFC != "":
		at, err := time.Parse(time.RFC3339, r.TimestampRFC)
		if err != nil {
			return heartbeat.Sample{}, errors.New("invalid timestamp_rfc3339")
		}
		sample.ArrivedAt = at.UTC()
	case r.Timestamp > 0:
		at, err := parseTimestamp(r.Timestamp)
		if err != nil {
			return heartbeat.Sample{}, err
		}
		sample.ArrivedAt = at
	}
	return sample, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
