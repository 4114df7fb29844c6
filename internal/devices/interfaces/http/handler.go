package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"fleetpulse/internal/audit"
	"fleetpulse/internal/auth"
	devapp "fleetpulse/internal/devices/application"
	devices "fleetpulse/internal/devices/domain"

	"github.com/google/uuid"
)

// Repository persists device registrations.
type Repository interface {
	Create(ctx context.Context, device *devices.Device) error
	GetByID(ctx context.Context, id string) (*devices.Device, error)
}

// Handler serves the device registry under /api/v1/devices.
type Handler struct {
	repo   Repository
	states *devapp.StateStore
	audit  audit.Logger
	logger *log.Logger
}

// NewHandler constructs a device handler.
func NewHandler(repo Repository, states *devapp.StateStore, auditLog audit.Logger, logger *log.Logger) (*Handler, error) {
	if repo == nil || states == nil {
		return nil, errors.New("device handler: nil repository or state store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{repo: repo, states: states, audit: auditLog, logger: logger}, nil
}

// ServeHTTP routes POST /api/v1/devices and GET /api/v1/devices/{id}/state.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices" && r.Method == http.MethodPost:
		h.create(w, r)
	case strings.HasSuffix(r.URL.Path, "/state") && r.Method == http.MethodGet:
		h.state(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type createRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Location     string `json:"location"`
	SerialNumber string `json:"serial_number"`
	UserID       string `json:"user_id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	device := devices.Device{
		ID:           req.ID,
		Name:         req.Name,
		Location:     req.Location,
		SerialNumber: req.SerialNumber,
		UserID:       req.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := device.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.repo.Create(r.Context(), &device); err != nil {
		h.logger.Printf("device create error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if h.audit != nil {
		entry := audit.Entry{
			Actor:        auth.UserIDFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "device.create",
			ResourceType: "device",
			ResourceID:   device.ID,
			DeviceID:     device.ID,
			IP:           r.RemoteAddr,
			UserAgent:    r.UserAgent(),
		}
		if err := h.audit.Log(r.Context(), entry); err != nil {
			h.logger.Printf("audit log error: device=%s: %v", device.ID, err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(device)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/devices/"), "/state")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	device, err := h.repo.GetByID(r.Context(), deviceID)
	if err != nil {
		h.logger.Printf("device lookup error: device=%s: %v", deviceID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	if role := auth.RoleFromContext(r.Context()); role != auth.RoleAdmin {
		if device.UserID != auth.UserIDFromContext(r.Context()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	snapshot, err := h.states.Get(deviceID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "no heartbeat recorded", http.StatusNotFound)
			return
		}
		h.logger.Printf("device state error: device=%s: %v", deviceID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stateResponse{
		DeviceID:    snapshot.DeviceID,
		HealthScore: snapshot.HealthScore,
		LastSeen:    snapshot.LastSeen,
		IsOnline:    snapshot.Online,
		Status:      string(snapshot.Status),
	})
}

type stateResponse struct {
	DeviceID    string    `json:"device_id"`
	HealthScore float64   `json:"health_score"`
	LastSeen    time.Time `json:"last_seen"`
	IsOnline    bool      `json:"is_online"`
	Status      string    `json:"status"`
}
