package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homelink_connection_attempts_total",
			Help: "Total number of broker connection attempts",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok, authentication, transport, ...
	)

	ConnectionAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homelink_connection_attempt_duration_seconds",
			Help:    "Time taken by a single broker connection attempt",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"endpoint"},
	)

	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homelink_connection_state",
			Help: "Broker connection state (1=connected, 0=otherwise)",
		},
		[]string{"endpoint"},
	)

	ConnectionsLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homelink_connections_lost_total",
			Help: "Total number of broker-initiated disconnections",
		},
		[]string{"endpoint"},
	)

	ReconnectCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homelink_reconnect_cycles_total",
			Help: "Total number of full candidate trials started after a lost connection",
		},
	)

	// Message metrics
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homelink_messages_published_total",
			Help: "Total number of MQTT messages published",
		},
		[]string{"topic"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homelink_messages_received_total",
			Help: "Total number of MQTT messages received",
		},
		[]string{"topic"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homelink_publish_duration_seconds",
			Help:    "Time taken to publish MQTT messages",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
		[]string{"topic"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homelink_publish_errors_total",
			Help: "Total number of MQTT publish errors",
		},
		[]string{"topic", "error_type"},
	)

	// Journal metrics
	JournalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homelink_journal_writes_total",
			Help: "Total number of connection journal writes",
		},
		[]string{"table"},
	)

	JournalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homelink_journal_errors_total",
			Help: "Total number of connection journal errors",
		},
		[]string{"operation"},
	)
)

// RecordAttempt records one connection attempt and its outcome
func RecordAttempt(endpoint, outcome string, duration float64) {
	ConnectionAttempts.WithLabelValues(endpoint, outcome).Inc()
	ConnectionAttemptDuration.WithLabelValues(endpoint).Observe(duration)
}

// SetConnectionState sets the connection state gauge for an endpoint
func SetConnectionState(endpoint string, connected bool) {
	state := 0.0
	if connected {
		state = 1.0
	}
	ConnectionState.WithLabelValues(endpoint).Set(state)
}

// RecordConnectionLost records a broker-initiated disconnect
func RecordConnectionLost(endpoint string) {
	ConnectionsLost.WithLabelValues(endpoint).Inc()
}

// RecordReconnectCycle records the start of a reconnect trial
func RecordReconnectCycle() {
	ReconnectCycles.Inc()
}

// RecordPublish records a successful publish
func RecordPublish(topic string, duration float64) {
	MessagesPublished.WithLabelValues(topic).Inc()
	PublishDuration.WithLabelValues(topic).Observe(duration)
}

// RecordPublishError records a failed publish
func RecordPublishError(topic, errorType string) {
	PublishErrors.WithLabelValues(topic, errorType).Inc()
}

// RecordReceive records an inbound message
func RecordReceive(topic string) {
	MessagesReceived.WithLabelValues(topic).Inc()
}

// RecordJournalWrite records a journal insert
func RecordJournalWrite(table string) {
	JournalWrites.WithLabelValues(table).Inc()
}

// RecordJournalError records a journal failure
func RecordJournalError(operation string) {
	JournalErrors.WithLabelValues(operation).Inc()
}
