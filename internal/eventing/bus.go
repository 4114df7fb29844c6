package eventing

import (
	"sync"

	"fleetpulse/internal/observability/metrics"
)

// DefaultQueueCapacity bounds each subscriber's event queue.
const DefaultQueueCapacity = 100

// Bus fans out events to per-user subscriber queues. Publishing never blocks:
// a slow or absent reader overflows its own bounded queue, which drops the
// oldest event so the freshest state wins.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	capacity    int
}

// Subscription is one subscriber's live event stream. Events arrive on C
// until Unsubscribe closes it. There is no replay: a new subscriber sees only
// events published after it joined.
type Subscription struct {
	UserID string
	C      <-chan Envelope

	ch chan Envelope
}

// BusOption customizes the bus.
type BusOption func(*Bus)

// WithQueueCapacity overrides the per-subscriber queue capacity.
func WithQueueCapacity(capacity int) BusOption {
	return func(b *Bus) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// NewBus constructs a bus.
func NewBus(opts ...BusOption) *Bus {
	bus := &Bus{
		subscribers: make(map[string]map[*Subscription]struct{}),
		capacity:    DefaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Subscribe registers a new subscriber for a user's events. Multiple
// concurrent subscriptions per user are supported.
func (b *Bus) Subscribe(userID string) *Subscription {
	ch := make(chan Envelope, b.capacity)
	sub := &Subscription{UserID: userID, C: ch, ch: ch}

	b.mu.Lock()
	subs, ok := b.subscribers[userID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.subscribers[userID] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	metrics.SetSubscribers(b.subscriberCount())
	return sub
}

// Unsubscribe removes a subscriber and releases its queue.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	subs, ok := b.subscribers[sub.UserID]
	if ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			close(sub.ch)
		}
		if len(subs) == 0 {
			delete(b.subscribers, sub.UserID)
		}
	}
	b.mu.Unlock()

	metrics.SetSubscribers(b.subscriberCount())
}

// Publish delivers an event to every subscriber of the given user. Delivery
// is best-effort at-most-once; overflowed queues drop their oldest event.
func (b *Bus) Publish(userID string, env Envelope) {
	if userID == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[userID] {
		select {
		case sub.ch <- env:
		default:
			// Queue full: evict the oldest queued event, then retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- env:
			default:
			}
			metrics.IncEventsDropped(env.EventType)
		}
	}
	metrics.IncEventsPublished(env.EventType)
}

// Stats reports connected users and subscriptions.
type Stats struct {
	Users         int
	Subscriptions int
}

// ConnectionStats returns a snapshot of the bus's subscriber population.
func (b *Bus) ConnectionStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := Stats{Users: len(b.subscribers)}
	for _, subs := range b.subscribers {
		stats.Subscriptions += len(subs)
	}
	return stats
}

func (b *Bus) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
