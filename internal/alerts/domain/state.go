package alerts

import "time"

// Phase is the debounce state of one (alert, device) pair.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePending Phase = "pending"
	PhaseFiring  Phase = "firing"
)

// Transition is the outcome of one evaluation.
type Transition string

const (
	TransitionNone      Transition = "none"
	TransitionTriggered Transition = "triggered"
	TransitionCleared   Transition = "cleared"
)

// EvaluationState is the mutable memory behind debouncing, keyed by
// (alert, device). Phase is stored explicitly, never derived from the
// timestamps: two samples in the same instant must not collapse distinct
// phases. ConditionTrueSince is zero while the compound condition is false;
// LastTriggered and TriggerCount survive clears for bookkeeping.
type EvaluationState struct {
	AlertID            string
	DeviceID           string
	Phase              Phase
	ConditionTrueSince time.Time
	LastTriggered      time.Time
	TriggerCount       int
	UpdatedAt          time.Time
}

// CurrentPhase returns the stored phase, treating the zero value as idle.
func (s EvaluationState) CurrentPhase() Phase {
	if s.Phase == "" {
		return PhaseIdle
	}
	return s.Phase
}
