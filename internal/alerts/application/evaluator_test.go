package application

import (
	"context"
	"testing"
	"time"

	alerts "fleetpulse/internal/alerts/domain"
	"fleetpulse/internal/alerts/infrastructure/memory"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *memory.StateRepository) {
	t.Helper()
	states := memory.NewStateRepository()
	evaluator, err := NewEvaluator(states)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	return evaluator, states
}

func cpuAlert(durationMinutes int) alerts.Definition {
	return alerts.Definition{
		ID:              "alert-1",
		Name:            "High CPU",
		DeviceID:        "dev-1",
		UserID:          "user-1",
		DurationMinutes: durationMinutes,
		Active:          true,
		Conditions: []alerts.Condition{
			{Metric: alerts.MetricCPUUsage, Operator: alerts.OperatorGreater, Value: 70},
		},
	}
}

func values(cpu float64) map[alerts.Metric]float64 {
	return map[alerts.Metric]float64{
		alerts.MetricCPUUsage:     cpu,
		alerts.MetricRAMUsage:     30,
		alerts.MetricTemperature:  40,
		alerts.MetricConnectivity: 1,
		alerts.MetricHealthScore:  75,
	}
}

func mustEvaluate(t *testing.T, e *Evaluator, alert alerts.Definition, vals map[alerts.Metric]float64, now time.Time) alerts.Transition {
	t.Helper()
	transition, err := e.Evaluate(context.Background(), alert, vals, now)
	if err != nil {
		t.Fatalf("evaluate at %v: %v", now, err)
	}
	return transition
}

func TestZeroDurationTriggersOnFirstTrueSample(t *testing.T) {
	evaluator, _ := newTestEvaluator(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if got := mustEvaluate(t, evaluator, cpuAlert(0), values(90), now); got != alerts.TransitionTriggered {
		t.Fatalf("transition = %s, want triggered", got)
	}
}

func TestDurationDebounce(t *testing.T) {
	evaluator, _ := newTestEvaluator(t)
	alert := cpuAlert(5)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// True for 2 minutes, then false: Pending → Idle, never triggers.
	if got := mustEvaluate(t, evaluator, alert, values(90), start); got != alerts.TransitionNone {
		t.Fatalf("first true sample: %s, want none", got)
	}
	if got := mustEvaluate(t, evaluator, alert, values(90), start.Add(2*time.Minute)); got != alerts.TransitionNone {
		t.Fatalf("still pending: %s, want none", got)
	}
	if got := mustEvaluate(t, evaluator, alert, values(10), start.Add(3*time.Minute)); got != alerts.TransitionNone {
		t.Fatalf("pending → idle must not emit cleared: %s", got)
	}

	// True continuously for ≥5 minutes: exactly one trigger.
	base := start.Add(10 * time.Minute)
	mustEvaluate(t, evaluator, alert, values(90), base)
	for i := 1; i <= 4; i++ {
		if got := mustEvaluate(t, evaluator, alert, values(90), base.Add(time.Duration(i)*time.Minute)); got != alerts.TransitionNone {
			t.Fatalf("at +%dm: %s, want none before duration elapses", i, got)
		}
	}
	if got := mustEvaluate(t, evaluator, alert, values(90), base.Add(5*time.Minute)); got != alerts.TransitionTriggered {
		t.Fatalf("at +5m: %s, want triggered", got)
	}

	// Staying true for 30 more minutes must not re-trigger.
	for i := 6; i <= 35; i++ {
		if got := mustEvaluate(t, evaluator, alert, values(90), base.Add(time.Duration(i)*time.Minute)); got != alerts.TransitionNone {
			t.Fatalf("at +%dm: %s, want none while firing", i, got)
		}
	}

	// Going false clears, going true again fires exactly once more.
	if got := mustEvaluate(t, evaluator, alert, values(10), base.Add(36*time.Minute)); got != alerts.TransitionCleared {
		t.Fatalf("firing → idle: %s, want cleared", got)
	}
	second := base.Add(40 * time.Minute)
	mustEvaluate(t, evaluator, alert, values(90), second)
	if got := mustEvaluate(t, evaluator, alert, values(90), second.Add(5*time.Minute)); got != alerts.TransitionTriggered {
		t.Fatalf("second period: %s, want triggered", got)
	}
}

func TestRetriggerWithinSameInstant(t *testing.T) {
	evaluator, states := newTestEvaluator(t)
	alert := cpuAlert(0)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Trigger, clear, and go true again without the clock advancing. The new
	// true-period must fire even though LastTriggered equals its start.
	if got := mustEvaluate(t, evaluator, alert, values(90), now); got != alerts.TransitionTriggered {
		t.Fatalf("first period: %s, want triggered", got)
	}
	if got := mustEvaluate(t, evaluator, alert, values(10), now); got != alerts.TransitionCleared {
		t.Fatalf("clear: %s, want cleared", got)
	}
	if got := mustEvaluate(t, evaluator, alert, values(90), now); got != alerts.TransitionTriggered {
		t.Fatalf("second period at same instant: %s, want triggered", got)
	}

	// Later samples in the second period are firing, not pending.
	if got := mustEvaluate(t, evaluator, alert, values(90), now.Add(time.Minute)); got != alerts.TransitionNone {
		t.Fatalf("while firing: %s, want none", got)
	}
	state, err := states.Get(context.Background(), alert.ID, alert.DeviceID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state == nil || state.TriggerCount != 2 || state.CurrentPhase() != alerts.PhaseFiring {
		t.Fatalf("state = %+v, want trigger count 2 and firing phase", state)
	}
}

func TestTriggerCountAndLastTriggered(t *testing.T) {
	evaluator, states := newTestEvaluator(t)
	alert := cpuAlert(0)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mustEvaluate(t, evaluator, alert, values(90), now)
	mustEvaluate(t, evaluator, alert, values(10), now.Add(time.Minute))
	mustEvaluate(t, evaluator, alert, values(90), now.Add(2*time.Minute))

	state, err := states.Get(context.Background(), alert.ID, alert.DeviceID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state == nil || state.TriggerCount != 2 {
		t.Fatalf("state = %+v, want trigger count 2", state)
	}
	if !state.LastTriggered.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("last triggered = %v, want %v", state.LastTriggered, now.Add(2*time.Minute))
	}
}

func TestCompoundAND(t *testing.T) {
	evaluator, _ := newTestEvaluator(t)
	alert := alerts.Definition{
		ID:       "alert-2",
		Name:     "Hot and busy",
		DeviceID: "dev-1",
		UserID:   "user-1",
		Active:   true,
		Conditions: []alerts.Condition{
			{Metric: alerts.MetricCPUUsage, Operator: alerts.OperatorGreater, Value: 70},
			{Metric: alerts.MetricTemperature, Operator: alerts.OperatorGreaterOrEqual, Value: 80},
		},
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	vals := values(90) // temperature 40: only the CPU condition holds
	if got := mustEvaluate(t, evaluator, alert, vals, now); got != alerts.TransitionNone {
		t.Fatalf("one of two conditions: %s, want none", got)
	}

	vals = values(10)
	vals[alerts.MetricTemperature] = 85 // only the temperature condition holds
	if got := mustEvaluate(t, evaluator, alert, vals, now.Add(time.Minute)); got != alerts.TransitionNone {
		t.Fatalf("other condition alone: %s, want none", got)
	}

	vals = values(90)
	vals[alerts.MetricTemperature] = 85
	if got := mustEvaluate(t, evaluator, alert, vals, now.Add(2*time.Minute)); got != alerts.TransitionTriggered {
		t.Fatalf("both conditions: %s, want triggered", got)
	}
}

func TestInactiveAlertSkipped(t *testing.T) {
	evaluator, states := newTestEvaluator(t)
	alert := cpuAlert(0)
	alert.Active = false
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if got := mustEvaluate(t, evaluator, alert, values(90), now); got != alerts.TransitionNone {
		t.Fatalf("inactive alert: %s, want none", got)
	}
	state, err := states.Get(context.Background(), alert.ID, alert.DeviceID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != nil {
		t.Fatalf("inactive alert must not create state, got %+v", state)
	}
}

func TestUnresolvableMetricIsEvaluationError(t *testing.T) {
	evaluator, _ := newTestEvaluator(t)
	alert := cpuAlert(0)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := evaluator.Evaluate(context.Background(), alert, map[alerts.Metric]float64{}, now)
	if err == nil {
		t.Fatal("expected evaluation error for unresolvable metric")
	}
}

func TestConnectivityCondition(t *testing.T) {
	evaluator, _ := newTestEvaluator(t)
	alert := alerts.Definition{
		ID:       "alert-3",
		Name:     "Disconnected",
		DeviceID: "dev-1",
		UserID:   "user-1",
		Active:   true,
		Conditions: []alerts.Condition{
			{Metric: alerts.MetricConnectivity, Operator: alerts.OperatorEqual, Value: 0},
		},
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	vals := values(10)
	if got := mustEvaluate(t, evaluator, alert, vals, now); got != alerts.TransitionNone {
		t.Fatalf("connected: %s, want none", got)
	}
	vals[alerts.MetricConnectivity] = 0
	if got := mustEvaluate(t, evaluator, alert, vals, now.Add(time.Minute)); got != alerts.TransitionTriggered {
		t.Fatalf("disconnected: %s, want triggered", got)
	}
}
