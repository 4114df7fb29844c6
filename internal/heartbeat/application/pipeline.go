package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	alertapp "fleetpulse/internal/alerts/application"
	alerts "fleetpulse/internal/alerts/domain"
	devapp "fleetpulse/internal/devices/application"
	devices "fleetpulse/internal/devices/domain"
	"fleetpulse/internal/eventing"
	"fleetpulse/internal/heartbeat/application/events"
	heartbeat "fleetpulse/internal/heartbeat/domain"
	"fleetpulse/internal/observability/metrics"
	"fleetpulse/internal/scoring"
)

// DeviceRepository resolves device identity and ownership and records
// heartbeat recency on the registration row.
type DeviceRepository interface {
	GetByID(ctx context.Context, id string) (*devices.Device, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// AlertRegistry lists active alert definitions for a device.
type AlertRegistry interface {
	GetActiveAlerts(ctx context.Context, deviceID string) ([]alerts.Definition, error)
}

// HeartbeatRepository persists accepted samples with their computed score.
type HeartbeatRepository interface {
	Insert(ctx context.Context, sample heartbeat.Sample, score float64) error
}

// StatePersister persists the device tracking state after each heartbeat.
type StatePersister interface {
	Upsert(ctx context.Context, state devices.State) error
}

// Publisher fans events out to a user's subscribers.
type Publisher interface {
	Publish(userID string, env eventing.Envelope)
}

// IngestResult aggregates one pipeline run for the caller.
type IngestResult struct {
	Sample    heartbeat.Sample
	Score     float64
	Status    scoring.Status
	State     devices.Snapshot
	Applied   bool
	Triggered []alerts.Definition
	Cleared   []alerts.Definition
	// Errors collects isolated failures (missing device, per-alert
	// evaluation, persistence) that did not abort the run.
	Errors []error
}

// Pipeline turns one heartbeat sample into an updated device state and zero
// or more alert transitions, publishing the resulting events. Heartbeats for
// the same device are serialized; different devices proceed in parallel.
type Pipeline struct {
	scorer     *scoring.Scorer
	states     *devapp.StateStore
	devices    DeviceRepository
	registry   AlertRegistry
	evaluator  *alertapp.Evaluator
	heartbeats HeartbeatRepository
	persister  StatePersister
	bus        Publisher
	logger     *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// PipelineOption customizes the pipeline.
type PipelineOption func(*Pipeline)

// WithHeartbeatRepository enables heartbeat history persistence.
func WithHeartbeatRepository(repo HeartbeatRepository) PipelineOption {
	return func(p *Pipeline) {
		p.heartbeats = repo
	}
}

// WithStatePersister enables device state persistence.
func WithStatePersister(persister StatePersister) PipelineOption {
	return func(p *Pipeline) {
		p.persister = persister
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline constructs the ingestion pipeline.
func NewPipeline(scorer *scoring.Scorer, states *devapp.StateStore, deviceRepo DeviceRepository, registry AlertRegistry, evaluator *alertapp.Evaluator, bus Publisher, opts ...PipelineOption) (*Pipeline, error) {
	if scorer == nil || states == nil {
		return nil, errors.New("pipeline: nil scorer or state store")
	}
	if deviceRepo == nil {
		return nil, errors.New("pipeline: nil device repository")
	}
	if registry == nil {
		return nil, errors.New("pipeline: nil alert registry")
	}
	if evaluator == nil {
		return nil, errors.New("pipeline: nil evaluator")
	}
	if bus == nil {
		return nil, errors.New("pipeline: nil publisher")
	}
	pipeline := &Pipeline{
		scorer:    scorer,
		states:    states,
		devices:   deviceRepo,
		registry:  registry,
		evaluator: evaluator,
		bus:       bus,
		logger:    log.Default(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// Ingest runs the pipeline for one sample. Validation failures abort before
// any state mutation; later per-alert and persistence failures degrade
// gracefully and are reported in the result's error list.
func (p *Pipeline) Ingest(ctx context.Context, sample heartbeat.Sample) (IngestResult, error) {
	start := time.Now()
	result, err := p.ingest(ctx, sample)
	metrics.ObserveIngest(err, time.Since(start))
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, sample heartbeat.Sample) (IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return IngestResult{}, fmt.Errorf("heartbeat: ingest aborted: %w", err)
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.ArrivedAt.IsZero() {
		sample.ArrivedAt = time.Now().UTC()
	}
	if err := sample.Validate(); err != nil {
		metrics.IncValidationError()
		return IngestResult{}, err
	}

	lock := p.deviceLock(sample.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return IngestResult{}, fmt.Errorf("heartbeat: ingest aborted: %w", err)
	}

	scored, err := p.scorer.Score(sample.Metrics())
	if err != nil {
		metrics.IncValidationError()
		return IngestResult{}, fmt.Errorf("%w: %v", heartbeat.ErrValidation, err)
	}

	result := IngestResult{
		Sample: sample,
		Score:  scored.Score,
		Status: scored.Status,
	}

	snapshot, statusChanged, applied := p.states.ApplyHeartbeat(sample.DeviceID, scored, sample.ArrivedAt)
	result.State = snapshot
	result.Applied = applied

	if p.heartbeats != nil {
		if err := p.heartbeats.Insert(ctx, sample, scored.Score); err != nil {
			p.logger.Printf("heartbeat persist error: device=%s: %v", sample.DeviceID, err)
			result.Errors = append(result.Errors, err)
		}
	}

	if !applied {
		// A newer heartbeat already owns the state; the stale sample is
		// recorded in history but drives no transitions or events.
		return result, nil
	}

	if p.persister != nil {
		if err := p.persister.Upsert(ctx, stateFromSnapshot(snapshot)); err != nil {
			p.logger.Printf("device state persist error: device=%s: %v", sample.DeviceID, err)
			result.Errors = append(result.Errors, err)
		}
	}

	device, err := p.devices.GetByID(ctx, sample.DeviceID)
	if err != nil {
		p.logger.Printf("device lookup error: device=%s: %v", sample.DeviceID, err)
		result.Errors = append(result.Errors, err)
		return result, nil
	}
	if device == nil {
		result.Errors = append(result.Errors, fmt.Errorf("%w: %s", devices.ErrNotFound, sample.DeviceID))
		return result, nil
	}

	if err := p.devices.UpdateLastSeen(ctx, device.ID, sample.ArrivedAt); err != nil {
		p.logger.Printf("device last seen error: device=%s: %v", device.ID, err)
		result.Errors = append(result.Errors, err)
	}

	p.evaluateAlerts(ctx, device, sample, scored, &result)
	p.publish(device, sample, scored, snapshot, statusChanged, &result)
	return result, nil
}

func (p *Pipeline) evaluateAlerts(ctx context.Context, device *devices.Device, sample heartbeat.Sample, scored scoring.Result, result *IngestResult) {
	definitions, err := p.registry.GetActiveAlerts(ctx, device.ID)
	if err != nil {
		p.logger.Printf("alert registry error: device=%s: %v", device.ID, err)
		result.Errors = append(result.Errors, err)
		return
	}

	values := resolveMetricValues(sample, scored.Score)
	for _, definition := range definitions {
		transition, err := p.evaluator.Evaluate(ctx, definition, values, sample.ArrivedAt)
		if err != nil {
			// One malformed alert must not abort its siblings.
			metrics.IncEvaluationError()
			p.logger.Printf("alert evaluate error: alert=%s device=%s: %v", definition.ID, device.ID, err)
			result.Errors = append(result.Errors, err)
			continue
		}
		switch transition {
		case alerts.TransitionTriggered:
			result.Triggered = append(result.Triggered, definition)
			metrics.IncAlertTransition(string(transition))
		case alerts.TransitionCleared:
			result.Cleared = append(result.Cleared, definition)
			metrics.IncAlertTransition(string(transition))
		}
	}
}

func (p *Pipeline) publish(device *devices.Device, sample heartbeat.Sample, scored scoring.Result, snapshot devices.Snapshot, statusChanged bool, result *IngestResult) {
	p.publishEvent(device.UserID, events.TypeHeartbeat, sample.ArrivedAt, events.HeartbeatEvent{
		DeviceID:      device.ID,
		HealthScore:   scored.Score,
		CPUUsage:      sample.CPUUsage,
		RAMUsage:      sample.RAMUsage,
		Temperature:   sample.Temperature,
		FreeDiskSpace: sample.FreeDiskSpace,
		DNSLatencyMS:  sample.DNSLatencyMS,
		Connectivity:  sample.Connectivity,
		Timestamp:     sample.ArrivedAt,
	}, result)

	if statusChanged {
		p.publishEvent(device.UserID, events.TypeDeviceStatus, sample.ArrivedAt, events.DeviceStatusEvent{
			DeviceID:    device.ID,
			IsOnline:    snapshot.Online,
			Status:      string(snapshot.Status),
			HealthScore: snapshot.HealthScore,
			LastSeen:    snapshot.LastSeen,
		}, result)
	}

	for _, definition := range result.Triggered {
		p.publishEvent(device.UserID, events.TypeAlertTriggered, sample.ArrivedAt, events.AlertTriggeredEvent{
			AlertID:     definition.ID,
			AlertName:   definition.Name,
			DeviceID:    device.ID,
			DeviceName:  device.Name,
			TriggeredAt: sample.ArrivedAt,
		}, result)
	}
	for _, definition := range result.Cleared {
		p.publishEvent(device.UserID, events.TypeAlertCleared, sample.ArrivedAt, events.AlertClearedEvent{
			AlertID:    definition.ID,
			AlertName:  definition.Name,
			DeviceID:   device.ID,
			DeviceName: device.Name,
			ClearedAt:  sample.ArrivedAt,
		}, result)
	}
}

func (p *Pipeline) publishEvent(userID, eventType string, occurredAt time.Time, payload any, result *IngestResult) {
	env, err := eventing.BuildEnvelope(eventType, occurredAt, payload)
	if err != nil {
		p.logger.Printf("event envelope error: type=%s: %v", eventType, err)
		result.Errors = append(result.Errors, err)
		return
	}
	p.bus.Publish(userID, env)
}

func (p *Pipeline) deviceLock(deviceID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[deviceID] = lock
	}
	return lock
}

func resolveMetricValues(sample heartbeat.Sample, score float64) map[alerts.Metric]float64 {
	connectivity := 0.0
	if sample.Connectivity {
		connectivity = 1.0
	}
	return map[alerts.Metric]float64{
		alerts.MetricCPUUsage:      sample.CPUUsage,
		alerts.MetricRAMUsage:      sample.RAMUsage,
		alerts.MetricTemperature:   sample.Temperature,
		alerts.MetricFreeDiskSpace: sample.FreeDiskSpace,
		alerts.MetricDNSLatency:    sample.DNSLatencyMS,
		alerts.MetricConnectivity:  connectivity,
		alerts.MetricHealthScore:   score,
	}
}

func stateFromSnapshot(snapshot devices.Snapshot) devices.State {
	return devices.State{
		DeviceID:    snapshot.DeviceID,
		HealthScore: snapshot.HealthScore,
		LastSeen:    snapshot.LastSeen,
		Connected:   snapshot.Online,
		Online:      snapshot.Online,
		UpdatedAt:   snapshot.LastSeen,
	}
}
