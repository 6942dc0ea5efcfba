package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Switch connection metrics
	SwitchConnectionState prometheus.Gauge
	SwitchReconnects      prometheus.Counter
	SwitchEventsReceived  *prometheus.CounterVec

	// Call session metrics
	ActiveCalls        prometheus.Gauge
	CallsCompleted     prometheus.Counter
	DiscardedEvents    *prometheus.CounterVec
	SegmentsClassified *prometheus.CounterVec

	// Queue metrics
	QueueJobsSubmitted *prometheus.CounterVec
	QueueJobsCompleted *prometheus.CounterVec
	QueueJobsFailed    *prometheus.CounterVec
	QueueJobsRetried   *prometheus.CounterVec
	QueueJobsWaiting   *prometheus.GaugeVec
	QueueJobsActive    *prometheus.GaugeVec

	// Broadcast metrics
	SubscribersConnected prometheus.Gauge
	BroadcastDropped     prometheus.Counter

	// Persistence metrics
	StoreWrites *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SwitchConnectionState = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "transcript_switch_connection_state",
				Help: "Switch connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=failed)",
			},
		)

		SwitchReconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "transcript_switch_reconnect_attempts_total",
				Help: "Total number of switch reconnect attempts",
			},
		)

		SwitchEventsReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_switch_events_received_total",
				Help: "Total number of switch events received by event name",
			},
			[]string{"event"},
		)

		ActiveCalls = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "transcript_active_calls",
				Help: "Number of calls currently tracked in memory",
			},
		)

		CallsCompleted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "transcript_calls_completed_total",
				Help: "Total number of calls aggregated after hangup",
			},
		)

		DiscardedEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_discarded_events_total",
				Help: "Total number of events discarded because no session matched",
			},
			[]string{"event"},
		)

		SegmentsClassified = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_segments_classified_total",
				Help: "Total number of transcript segments built by kind",
			},
			[]string{"kind"},
		)

		QueueJobsSubmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_queue_jobs_submitted_total",
				Help: "Total number of jobs submitted per lane",
			},
			[]string{"lane"},
		)

		QueueJobsCompleted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_queue_jobs_completed_total",
				Help: "Total number of jobs completed per lane",
			},
			[]string{"lane"},
		)

		QueueJobsFailed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_queue_jobs_failed_total",
				Help: "Total number of jobs permanently failed per lane",
			},
			[]string{"lane"},
		)

		QueueJobsRetried = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_queue_jobs_retried_total",
				Help: "Total number of job retry attempts per lane",
			},
			[]string{"lane"},
		)

		QueueJobsWaiting = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "transcript_queue_jobs_waiting",
				Help: "Number of jobs waiting per lane",
			},
			[]string{"lane"},
		)

		QueueJobsActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "transcript_queue_jobs_active",
				Help: "Number of jobs executing per lane",
			},
			[]string{"lane"},
		)

		SubscribersConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "transcript_subscribers_connected",
				Help: "Number of connected live subscribers",
			},
		)

		BroadcastDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "transcript_broadcast_dropped_total",
				Help: "Total number of messages dropped for slow subscribers",
			},
		)

		StoreWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_store_writes_total",
				Help: "Total number of durable store writes by entity and outcome",
			},
			[]string{"entity", "status"},
		)

		registry.MustRegister(
			SwitchConnectionState,
			SwitchReconnects,
			SwitchEventsReceived,
			ActiveCalls,
			CallsCompleted,
			DiscardedEvents,
			SegmentsClassified,
			QueueJobsSubmitted,
			QueueJobsCompleted,
			QueueJobsFailed,
			QueueJobsRetried,
			QueueJobsWaiting,
			QueueJobsActive,
			SubscribersConnected,
			BroadcastDropped,
			StoreWrites,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled && registry != nil
}

// SetEnabled toggles metrics collection
func SetEnabled(enabled bool) {
	metricsEnabled = enabled
}

// Handler returns an HTTP handler that serves the metrics registry
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordSwitchEvent increments the received counter for an event name
func RecordSwitchEvent(event string) {
	if IsMetricsEnabled() {
		SwitchEventsReceived.WithLabelValues(event).Inc()
	}
}

// RecordDiscardedEvent increments the discard counter for an event name
func RecordDiscardedEvent(event string) {
	if IsMetricsEnabled() {
		DiscardedEvents.WithLabelValues(event).Inc()
	}
}

// RecordSegment increments the classified-segment counter for a kind
func RecordSegment(kind string) {
	if IsMetricsEnabled() {
		SegmentsClassified.WithLabelValues(kind).Inc()
	}
}

// RecordStoreWrite increments the store write counter
func RecordStoreWrite(entity, status string) {
	if IsMetricsEnabled() {
		StoreWrites.WithLabelValues(entity, status).Inc()
	}
}
