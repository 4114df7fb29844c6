package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	alertapp "fleetpulse/internal/alerts/application"
	alerts "fleetpulse/internal/alerts/domain"
	alertmem "fleetpulse/internal/alerts/infrastructure/memory"
	devapp "fleetpulse/internal/devices/application"
	devices "fleetpulse/internal/devices/domain"
	devmem "fleetpulse/internal/devices/infrastructure/memory"
	"fleetpulse/internal/eventing"
	"fleetpulse/internal/heartbeat/application/events"
	heartbeat "fleetpulse/internal/heartbeat/domain"
	"fleetpulse/internal/scoring"
)

type recordedEvent struct {
	userID string
	env    eventing.Envelope
}

type recordingBus struct {
	mu        sync.Mutex
	published []recordedEvent
}

func (b *recordingBus) Publish(userID string, env eventing.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, recordedEvent{userID: userID, env: env})
}

func (b *recordingBus) byType(eventType string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, ev := range b.published {
		if ev.env.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type recordingHeartbeatRepo struct {
	mu       sync.Mutex
	inserted []heartbeat.Sample
}

func (r *recordingHeartbeatRepo) Insert(ctx context.Context, sample heartbeat.Sample, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, sample)
	return nil
}

func (r *recordingHeartbeatRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inserted)
}

type pipelineFixture struct {
	pipeline    *Pipeline
	states      *devapp.StateStore
	devices     *devmem.DeviceRepository
	definitions *alertmem.DefinitionRepository
	bus         *recordingBus
	heartbeats  *recordingHeartbeatRepo
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	scorer, err := scoring.NewScorer(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	states, err := devapp.NewStateStore(scorer)
	if err != nil {
		t.Fatalf("NewStateStore: %v", err)
	}
	deviceRepo := devmem.NewDeviceRepository()
	definitions := alertmem.NewDefinitionRepository()
	registry, err := alertapp.NewRegistry(definitions, alertapp.WithTTL(0))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	evaluator, err := alertapp.NewEvaluator(alertmem.NewStateRepository())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	bus := &recordingBus{}
	heartbeats := &recordingHeartbeatRepo{}
	pipeline, err := NewPipeline(scorer, states, deviceRepo, registry, evaluator, bus,
		WithHeartbeatRepository(heartbeats),
		WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return &pipelineFixture{
		pipeline:    pipeline,
		states:      states,
		devices:     deviceRepo,
		definitions: definitions,
		bus:         bus,
		heartbeats:  heartbeats,
	}
}

func (f *pipelineFixture) registerDevice(t *testing.T, id, userID string) {
	t.Helper()
	err := f.devices.Put(devices.Device{
		ID:           id,
		Name:         "rack " + id,
		SerialNumber: "SN-" + id,
		UserID:       userID,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
}

func testSample(deviceID string, at time.Time) heartbeat.Sample {
	return heartbeat.Sample{
		DeviceID:      deviceID,
		CPUUsage:      90,
		RAMUsage:      60,
		Temperature:   45,
		FreeDiskSpace: 70,
		DNSLatencyMS:  50,
		Connectivity:  true,
		ArrivedAt:     at,
	}
}

func TestIngestRejectsInvalidSample(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")

	sample := testSample("dev-1", time.Now().UTC())
	sample.CPUUsage = 150

	_, err := f.pipeline.Ingest(context.Background(), sample)
	if !errors.Is(err, heartbeat.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.heartbeats.count() != 0 {
		t.Fatalf("rejected sample must not be persisted")
	}
	if _, err := f.states.Get("dev-1", time.Now().UTC()); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("rejected sample must not create device state, got %v", err)
	}
	if len(f.bus.published) != 0 {
		t.Fatalf("rejected sample must not publish events, got %d", len(f.bus.published))
	}
}

func TestIngestScoresAndPublishes(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result, err := f.pipeline.Ingest(context.Background(), testSample("dev-1", at))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected isolated errors: %v", result.Errors)
	}
	if result.Score != 58.0 {
		t.Fatalf("expected score 58.0, got %v", result.Score)
	}
	if result.Status != scoring.StatusCritical {
		t.Fatalf("expected critical status, got %s", result.Status)
	}

	heartbeats := f.bus.byType(events.TypeHeartbeat)
	if len(heartbeats) != 1 {
		t.Fatalf("expected one heartbeat event, got %d", len(heartbeats))
	}
	if heartbeats[0].userID != "user-1" {
		t.Fatalf("heartbeat routed to %q, want user-1", heartbeats[0].userID)
	}
	var payload events.HeartbeatEvent
	if err := json.Unmarshal(heartbeats[0].env.Payload, &payload); err != nil {
		t.Fatalf("decode heartbeat payload: %v", err)
	}
	if payload.DeviceID != "dev-1" || payload.HealthScore != 58.0 {
		t.Fatalf("unexpected heartbeat payload %+v", payload)
	}

	// The first heartbeat establishes status and is a status change.
	statuses := f.bus.byType(events.TypeDeviceStatus)
	if len(statuses) != 1 {
		t.Fatalf("expected one device status event, got %d", len(statuses))
	}
	var status events.DeviceStatusEvent
	if err := json.Unmarshal(statuses[0].env.Payload, &status); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	if !status.IsOnline || status.Status != string(scoring.StatusCritical) {
		t.Fatalf("unexpected status payload %+v", status)
	}

	if f.heartbeats.count() != 1 {
		t.Fatalf("expected one persisted heartbeat, got %d", f.heartbeats.count())
	}
}

func TestIngestStableStatusPublishesNoStatusEvent(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := f.pipeline.Ingest(context.Background(), testSample("dev-1", at)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := f.pipeline.Ingest(context.Background(), testSample("dev-1", at.Add(30*time.Second))); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if got := len(f.bus.byType(events.TypeDeviceStatus)); got != 1 {
		t.Fatalf("unchanged status must not re-publish, got %d events", got)
	}
	if got := len(f.bus.byType(events.TypeHeartbeat)); got != 2 {
		t.Fatalf("expected two heartbeat events, got %d", got)
	}
}

func TestIngestTriggersAndClearsAlert(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")
	err := f.definitions.Put(alerts.Definition{
		ID:       "alert-1",
		Name:     "cpu hot",
		DeviceID: "dev-1",
		UserID:   "user-1",
		Conditions: []alerts.Condition{
			{Metric: alerts.MetricCPUUsage, Operator: alerts.OperatorGreater, Value: 70},
		},
		Active: true,
	})
	if err != nil {
		t.Fatalf("put alert: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result, err := f.pipeline.Ingest(context.Background(), testSample("dev-1", at))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Triggered) != 1 || result.Triggered[0].ID != "alert-1" {
		t.Fatalf("expected alert-1 triggered, got %+v", result.Triggered)
	}

	triggered := f.bus.byType(events.TypeAlertTriggered)
	if len(triggered) != 1 {
		t.Fatalf("expected one triggered event, got %d", len(triggered))
	}
	var payload events.AlertTriggeredEvent
	if err := json.Unmarshal(triggered[0].env.Payload, &payload); err != nil {
		t.Fatalf("decode triggered payload: %v", err)
	}
	if payload.AlertName != "cpu hot" || payload.DeviceName != "rack dev-1" {
		t.Fatalf("unexpected triggered payload %+v", payload)
	}

	// Still above threshold, still firing, no second notification.
	result, err = f.pipeline.Ingest(context.Background(), testSample("dev-1", at.Add(time.Minute)))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(result.Triggered) != 0 {
		t.Fatalf("firing alert must not re-trigger, got %+v", result.Triggered)
	}

	calm := testSample("dev-1", at.Add(2*time.Minute))
	calm.CPUUsage = 10
	result, err = f.pipeline.Ingest(context.Background(), calm)
	if err != nil {
		t.Fatalf("third ingest: %v", err)
	}
	if len(result.Cleared) != 1 || result.Cleared[0].ID != "alert-1" {
		t.Fatalf("expected alert-1 cleared, got %+v", result.Cleared)
	}
	if got := len(f.bus.byType(events.TypeAlertCleared)); got != 1 {
		t.Fatalf("expected one cleared event, got %d", got)
	}
}

func TestIngestEvaluationErrorIsIsolated(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")
	broken := alerts.Definition{
		ID:       "alert-broken",
		Name:     "broken",
		DeviceID: "dev-1",
		UserID:   "user-1",
		Conditions: []alerts.Condition{
			{Metric: alerts.MetricCPUUsage, Operator: alerts.Operator("between"), Value: 70},
		},
		Active: true,
	}
	good := alerts.Definition{
		ID:       "alert-good",
		Name:     "cpu hot",
		DeviceID: "dev-1",
		UserID:   "user-1",
		Conditions: []alerts.Condition{
			{Metric: alerts.MetricCPUUsage, Operator: alerts.OperatorGreater, Value: 70},
		},
		Active: true,
	}
	for _, definition := range []alerts.Definition{broken, good} {
		if err := f.definitions.Put(definition); err != nil {
			t.Fatalf("put alert: %v", err)
		}
	}

	result, err := f.pipeline.Ingest(context.Background(), testSample("dev-1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], alerts.ErrEvaluation) {
		t.Fatalf("expected one isolated evaluation error, got %v", result.Errors)
	}
	if len(result.Triggered) != 1 || result.Triggered[0].ID != "alert-good" {
		t.Fatalf("healthy alert must still trigger, got %+v", result.Triggered)
	}
}

func TestIngestUnknownDeviceSkipsAlertsAndEvents(t *testing.T) {
	f := newPipelineFixture(t)

	at := time.Now().UTC()
	result, err := f.pipeline.Ingest(context.Background(), testSample("ghost", at))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], devices.ErrNotFound) {
		t.Fatalf("expected not found in result errors, got %v", result.Errors)
	}
	if len(f.bus.published) != 0 {
		t.Fatalf("unknown device must not publish events, got %d", len(f.bus.published))
	}
	// State is still tracked so a late registration picks it up.
	if _, err := f.states.Get("ghost", at); err != nil {
		t.Fatalf("state must be tracked for unknown device: %v", err)
	}
}

func TestIngestStaleSampleDrivesNoEvents(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := f.pipeline.Ingest(context.Background(), testSample("dev-1", at)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	stale := testSample("dev-1", at.Add(-time.Minute))
	stale.CPUUsage = 5
	result, err := f.pipeline.Ingest(context.Background(), stale)
	if err != nil {
		t.Fatalf("stale ingest: %v", err)
	}
	if result.Applied {
		t.Fatalf("stale sample must not be applied")
	}
	if got := len(f.bus.byType(events.TypeHeartbeat)); got != 1 {
		t.Fatalf("stale sample must not publish, got %d heartbeat events", got)
	}
	// History keeps every accepted sample regardless of ordering.
	if f.heartbeats.count() != 2 {
		t.Fatalf("expected both samples persisted, got %d", f.heartbeats.count())
	}

	snapshot, err := f.states.Get("dev-1", at)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snapshot.HealthScore != 58.0 {
		t.Fatalf("stale sample must not overwrite state, got score %v", snapshot.HealthScore)
	}
}

func TestIngestSerializesPerDevice(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")

	const workers = 16
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			sample := testSample("dev-1", base.Add(time.Duration(offset)*time.Second))
			f.pipeline.Ingest(context.Background(), sample)
		}(i)
	}
	wg.Wait()

	if f.heartbeats.count() != workers {
		t.Fatalf("expected %d persisted heartbeats, got %d", workers, f.heartbeats.count())
	}
	snapshot, err := f.states.Get("dev-1", base.Add(workers*time.Second))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := snapshot.LastSeen; !got.Equal(base.Add((workers - 1) * time.Second)) {
		t.Fatalf("state must track the newest arrival, got last seen %v", got)
	}
}

func TestIngestContextCancelled(t *testing.T) {
	f := newPipelineFixture(t)
	f.registerDevice(t, "dev-1", "user-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.pipeline.Ingest(ctx, testSample("dev-1", time.Now().UTC()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
