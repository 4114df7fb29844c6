package application

import (
	"context"
	"errors"

	alerts "fleetpulse/internal/alerts/domain"
)

// AdminRepository mutates alert definitions.
type AdminRepository interface {
	GetByID(ctx context.Context, alertID string) (*alerts.Definition, error)
	SetActive(ctx context.Context, alertID string, active bool) error
}

// Service handles alert lifecycle operations that touch evaluation state.
type Service struct {
	repo     AdminRepository
	states   StateRepository
	registry *Registry
}

// NewService constructs an alert service.
func NewService(repo AdminRepository, states StateRepository, registry *Registry) (*Service, error) {
	if repo == nil || states == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if registry == nil {
		return nil, errors.New("alerts: nil registry")
	}
	return &Service{repo: repo, states: states, registry: registry}, nil
}

// SetActive activates or deactivates an alert. Deactivation clears the
// alert's evaluation state so a later re-activation starts Idle instead of
// firing on a stale true-since timestamp.
func (s *Service) SetActive(ctx context.Context, alertID string, active bool) (*alerts.Definition, error) {
	if alertID == "" {
		return nil, errors.New("alerts: alert id required")
	}
	alert, err := s.repo.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if alert.Active == active {
		return alert, nil
	}
	if err := s.repo.SetActive(ctx, alertID, active); err != nil {
		return nil, err
	}
	if !active {
		if err := s.states.ClearByAlert(ctx, alertID); err != nil {
			return nil, err
		}
	}
	alert.Active = active
	s.registry.Invalidate(alert.DeviceID)
	return alert, nil
}

// ResetState clears the evaluation state for one alert, dropping any pending
// or firing period.
func (s *Service) ResetState(ctx context.Context, alertID string) error {
	if alertID == "" {
		return errors.New("alerts: alert id required")
	}
	return s.states.ClearByAlert(ctx, alertID)
}
