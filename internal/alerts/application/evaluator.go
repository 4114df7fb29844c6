package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	alerts "fleetpulse/internal/alerts/domain"
)

// StateRepository stores per-(alert, device) evaluation state.
type StateRepository interface {
	Get(ctx context.Context, alertID, deviceID string) (*alerts.EvaluationState, error)
	Upsert(ctx context.Context, state *alerts.EvaluationState) error
	ClearByAlert(ctx context.Context, alertID string) error
}

// Evaluator decides trigger/clear transitions for compound alert rules. The
// per-pair evaluation state it mutates is serialized by the pipeline's
// per-device lock; the evaluator itself holds no locks.
type Evaluator struct {
	states StateRepository
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(states StateRepository) (*Evaluator, error) {
	if states == nil {
		return nil, errors.New("evaluator: nil state repository")
	}
	return &Evaluator{states: states}, nil
}

// Evaluate runs one alert against one resolved sample. The compound AND is
// computed first; the duration requirement then applies to the compound
// result, walking the stored phase idle -> pending -> firing. At most one
// Triggered is emitted per continuous true-period, and Cleared is emitted
// only when a firing alert's condition resolves.
func (e *Evaluator) Evaluate(ctx context.Context, alert alerts.Definition, values map[alerts.Metric]float64, now time.Time) (alerts.Transition, error) {
	if !alert.Active {
		return alerts.TransitionNone, nil
	}
	compound, err := compoundTrue(alert, values)
	if err != nil {
		return alerts.TransitionNone, fmt.Errorf("%w: alert %s: %v", alerts.ErrEvaluation, alert.ID, err)
	}

	state, err := e.states.Get(ctx, alert.ID, alert.DeviceID)
	if err != nil {
		return alerts.TransitionNone, err
	}
	if state == nil {
		state = &alerts.EvaluationState{AlertID: alert.ID, DeviceID: alert.DeviceID}
	}

	if !compound {
		if state.CurrentPhase() == alerts.PhaseIdle {
			return alerts.TransitionNone, nil
		}
		wasFiring := state.CurrentPhase() == alerts.PhaseFiring
		state.Phase = alerts.PhaseIdle
		state.ConditionTrueSince = time.Time{}
		state.UpdatedAt = now
		if err := e.states.Upsert(ctx, state); err != nil {
			return alerts.TransitionNone, err
		}
		if wasFiring {
			return alerts.TransitionCleared, nil
		}
		return alerts.TransitionNone, nil
	}

	if state.CurrentPhase() == alerts.PhaseIdle {
		state.Phase = alerts.PhasePending
		state.ConditionTrueSince = now
	}
	state.UpdatedAt = now

	if state.CurrentPhase() == alerts.PhasePending && now.Sub(state.ConditionTrueSince) >= alert.Duration() {
		state.Phase = alerts.PhaseFiring
		state.LastTriggered = now
		state.TriggerCount++
		if err := e.states.Upsert(ctx, state); err != nil {
			return alerts.TransitionNone, err
		}
		return alerts.TransitionTriggered, nil
	}

	if err := e.states.Upsert(ctx, state); err != nil {
		return alerts.TransitionNone, err
	}
	return alerts.TransitionNone, nil
}

// State exposes the stored evaluation state for one pair, mainly for
// bookkeeping queries.
func (e *Evaluator) State(ctx context.Context, alertID, deviceID string) (*alerts.EvaluationState, error) {
	return e.states.Get(ctx, alertID, deviceID)
}

func compoundTrue(alert alerts.Definition, values map[alerts.Metric]float64) (bool, error) {
	if len(alert.Conditions) == 0 {
		return false, errors.New("no conditions")
	}
	for _, cond := range alert.Conditions {
		value, ok := values[cond.Metric]
		if !ok {
			return false, fmt.Errorf("unresolvable metric %q", cond.Metric)
		}
		holds, err := compare(value, cond.Operator, cond.Value)
		if err != nil {
			return false, err
		}
		if !holds {
			return false, nil
		}
	}
	return true, nil
}

func compare(value float64, op alerts.Operator, threshold float64) (bool, error) {
	switch op {
	case alerts.OperatorGreater:
		return value > threshold, nil
	case alerts.OperatorGreaterOrEqual:
		return value >= threshold, nil
	case alerts.OperatorLess:
		return value < threshold, nil
	case alerts.OperatorLessOrEqual:
		return value <= threshold, nil
	case alerts.OperatorEqual:
		return value == threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}
