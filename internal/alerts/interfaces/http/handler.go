package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	alertapp "fleetpulse/internal/alerts/application"
	alerts "fleetpulse/internal/alerts/domain"
	"fleetpulse/internal/audit"
	"fleetpulse/internal/auth"
)

// Handler serves alert lifecycle operations under /api/v1/alerts/.
type Handler struct {
	service *alertapp.Service
	repo    alertapp.AdminRepository
	owners  auth.DeviceOwnerChecker
	audit   audit.Logger
	logger  *log.Logger
}

// NewHandler constructs an alert handler.
func NewHandler(service *alertapp.Service, repo alertapp.AdminRepository, owners auth.DeviceOwnerChecker, auditLog audit.Logger, logger *log.Logger) (*Handler, error) {
	if service == nil || repo == nil {
		return nil, errors.New("alert handler: nil service or repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, repo: repo, owners: owners, audit: auditLog, logger: logger}, nil
}

// ServeHTTP routes POST /api/v1/alerts/{id}/{activate|deactivate|reset}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	alertID, action, ok := parsePath(r.URL.Path)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	alert, err := h.repo.GetByID(r.Context(), alertID)
	if err != nil {
		h.writeError(w, alertID, err)
		return
	}
	if alert == nil {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	if err := h.ensureOwner(r, alert); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	switch action {
	case "activate", "deactivate":
		updated, err := h.service.SetActive(r.Context(), alertID, action == "activate")
		if err != nil {
			h.writeError(w, alertID, err)
			return
		}
		h.recordAudit(r, action, alert)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(updated)
	case "reset":
		if err := h.service.ResetState(r.Context(), alertID); err != nil {
			h.writeError(w, alertID, err)
			return
		}
		h.recordAudit(r, action, alert)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) recordAudit(r *http.Request, action string, alert *alerts.Definition) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "alert." + action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		DeviceID:     alert.DeviceID,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
	if err := h.audit.Log(r.Context(), entry); err != nil {
		h.logger.Printf("audit log error: alert=%s: %v", alert.ID, err)
	}
}

func (h *Handler) ensureOwner(r *http.Request, alert *alerts.Definition) error {
	if h.owners == nil {
		return nil
	}
	if auth.RoleFromContext(r.Context()) == auth.RoleAdmin {
		return nil
	}
	return h.owners.EnsureDeviceOwner(r.Context(), auth.UserIDFromContext(r.Context()), alert.DeviceID)
}

func (h *Handler) writeError(w http.ResponseWriter, alertID string, err error) {
	if errors.Is(err, alerts.ErrNotFound) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	h.logger.Printf("alert handler error: alert=%s: %v", alertID, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parsePath(path string) (alertID, action string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/v1/alerts/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
