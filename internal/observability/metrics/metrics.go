package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleetpulse_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	heartbeatsIngested *prometheus.CounterVec
	ingestLatency      *prometheus.HistogramVec
	validationErrors   prometheus.Counter
	evaluationErrors   prometheus.Counter

	alertTransitions *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	subscribers     prometheus.Gauge

	devicesOffline prometheus.Counter
)

// Init registers pipeline metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		heartbeatsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "heartbeats_ingested_total",
				Help: "Total heartbeats processed by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Heartbeat pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		validationErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "heartbeat_validation_errors_total",
				Help: "Total heartbeats rejected by validation",
			},
		)
		evaluationErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_evaluation_errors_total",
				Help: "Total isolated per-alert evaluation failures",
			},
		)
		alertTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_transitions_total",
				Help: "Total alert transitions by kind",
			},
			[]string{"transition"},
		)
		eventsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_published_total",
				Help: "Total events published to the bus by type",
			},
			[]string{"type"},
		)
		eventsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_dropped_total",
				Help: "Total events dropped from overflowed subscriber queues by type",
			},
			[]string{"type"},
		)
		subscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_subscribers",
				Help: "Connected event stream subscribers",
			},
		)
		devicesOffline = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "devices_marked_offline_total",
				Help: "Total offline transitions detected by the recency sweep",
			},
		)

		prometheus.MustRegister(
			heartbeatsIngested,
			ingestLatency,
			validationErrors,
			evaluationErrors,
			alertTransitions,
			eventsPublished,
			eventsDropped,
			subscribers,
			devicesOffline,
		)
	})
}

// ObserveIngest records one pipeline run.
func ObserveIngest(err error, elapsed time.Duration) {
	if heartbeatsIngested == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	heartbeatsIngested.WithLabelValues(result).Inc()
	ingestLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// IncValidationError counts a rejected heartbeat.
func IncValidationError() {
	if validationErrors != nil {
		validationErrors.Inc()
	}
}

// IncEvaluationError counts an isolated per-alert failure.
func IncEvaluationError() {
	if evaluationErrors != nil {
		evaluationErrors.Inc()
	}
}

// IncAlertTransition counts a triggered/cleared transition.
func IncAlertTransition(transition string) {
	if alertTransitions != nil {
		alertTransitions.WithLabelValues(transition).Inc()
	}
}

// IncEventsPublished counts one bus publish.
func IncEventsPublished(eventType string) {
	if eventsPublished != nil {
		eventsPublished.WithLabelValues(eventType).Inc()
	}
}

// IncEventsDropped counts one overflow drop.
func IncEventsDropped(eventType string) {
	if eventsDropped != nil {
		eventsDropped.WithLabelValues(eventType).Inc()
	}
}

// SetSubscribers updates the connected subscriber gauge.
func SetSubscribers(count int) {
	if subscribers != nil {
		subscribers.Set(float64(count))
	}
}

// IncDevicesOffline counts offline transitions found by the sweeper.
func IncDevicesOffline(count int) {
	if devicesOffline != nil && count > 0 {
		devicesOffline.Add(float64(count))
	}
}
