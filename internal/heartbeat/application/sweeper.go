package application

import (
	"context"
	"errors"
	"log"
	"time"

	devapp "fleetpulse/internal/devices/application"
	"fleetpulse/internal/eventing"
	"fleetpulse/internal/heartbeat/application/events"
	"fleetpulse/internal/observability/metrics"
	"fleetpulse/internal/scoring"
)

// DefaultSweepInterval is how often the recency sweep runs.
const DefaultSweepInterval = 30 * time.Second

// Sweeper flips devices offline when their last heartbeat ages past the
// online timeout and notifies the owning user. Heartbeat ingestion flips
// devices back online; the sweeper only ever marks them offline.
type Sweeper struct {
	states   *devapp.StateStore
	devices  DeviceRepository
	bus      Publisher
	interval time.Duration
	logger   *log.Logger
}

// SweeperOption customizes the sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval overrides the sweep interval.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweeperLogger assigns a logger.
func WithSweeperLogger(logger *log.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper constructs an offline sweeper.
func NewSweeper(states *devapp.StateStore, deviceRepo DeviceRepository, bus Publisher, opts ...SweeperOption) (*Sweeper, error) {
	if states == nil {
		return nil, errors.New("sweeper: nil state store")
	}
	if deviceRepo == nil {
		return nil, errors.New("sweeper: nil device repository")
	}
	if bus == nil {
		return nil, errors.New("sweeper: nil publisher")
	}
	sweeper := &Sweeper{
		states:   states,
		devices:  deviceRepo,
		bus:      bus,
		interval: DefaultSweepInterval,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now.UTC())
		}
	}
}

// Sweep marks stale devices offline and publishes one status event per
// transition. It returns the number of devices flipped.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	flipped := s.states.MarkOfflineByRecency(now)
	if len(flipped) == 0 {
		return 0
	}
	metrics.IncDevicesOffline(len(flipped))

	for _, deviceID := range flipped {
		snapshot, err := s.states.Get(deviceID, now)
		if err != nil {
			continue
		}
		device, err := s.devices.GetByID(ctx, deviceID)
		if err != nil || device == nil {
			s.logger.Printf("sweep: owner lookup failed: device=%s: %v", deviceID, err)
			continue
		}
		env, err := eventing.BuildEnvelope(events.TypeDeviceStatus, now, events.DeviceStatusEvent{
			DeviceID:    deviceID,
			IsOnline:    false,
			Status:      string(scoring.StatusOffline),
			HealthScore: snapshot.HealthScore,
			LastSeen:    snapshot.LastSeen,
		})
		if err != nil {
			s.logger.Printf("sweep: envelope error: device=%s: %v", deviceID, err)
			continue
		}
		s.bus.Publish(device.UserID, env)
	}
	s.logger.Printf("sweep: marked %d device(s) offline", len(flipped))
	return len(flipped)
}
