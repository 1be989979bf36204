package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Scheduling
	Transitions   *prometheus.CounterVec
	SlotConflicts prometheus.Counter
	StoreLatency  *prometheus.HistogramVec

	// Outbox
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec
	OutboxEventsPurged      prometheus.Counter

	// Notifications
	NotificationsSent *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil registerer skips registration.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Appointment commands by operation and result",
		}, []string{"operation", "result"}),
		SlotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_slot_conflicts_total",
			Help:      "Approvals or reschedules rejected because the slot was already held",
		}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of appointment store operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		OutboxEventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox batches",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),
		OutboxEventsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_purged_total",
			Help:      "Processed outbox events removed by the cleanup worker",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Counter-party notifications by channel and status",
		}, []string{"channel", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Transitions,
			m.SlotConflicts,
			m.StoreLatency,
			m.OutboxEventsProcessed,
			m.OutboxEventsFailed,
			m.OutboxProcessingLatency,
			m.OutboxRetries,
			m.OutboxEventsPurged,
			m.NotificationsSent,
		)
	}

	return m
}

// ObserveTransition records the outcome of a scheduling command
func (m *Metrics) ObserveTransition(operation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Transitions.WithLabelValues(operation, result).Inc()
}

// ObserveConflict counts a lost slot race
func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.SlotConflicts.Inc()
}

// StoreTimer starts a latency timer for a store operation
func (m *Metrics) StoreTimer(operation string) *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	}
	return prometheus.NewTimer(m.StoreLatency.WithLabelValues(operation))
}

// ObserveNotification records a notification delivery attempt
func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.NotificationsSent.WithLabelValues(channel, status).Inc()
}

// OutboxTimer starts a latency timer for one outbox batch
func (m *Metrics) OutboxTimer() *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	}
	return prometheus.NewTimer(m.OutboxProcessingLatency)
}

// ObserveOutboxEvent records the delivery result of an outbox event
func (m *Metrics) ObserveOutboxEvent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.OutboxEventsFailed.Inc()
		return
	}
	m.OutboxEventsProcessed.Inc()
}

func (m *Metrics) ObserveOutboxRetry(eventType string) {
	if m == nil {
		return
	}
	m.OutboxRetries.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObservePurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxEventsPurged.Add(float64(n))
}
