// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package metrics provides Prometheus instrumentation for the realtime
// engine: geofence transitions, bus fan-out, mutation queue replay, and
// gateway connection churn. Exposed on /metrics by the API router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Geofence Monitor
	GeofenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofence_transitions_total",
			Help: "Total zone transition events emitted, by direction",
		},
		[]string{"direction"}, // "entered", "exited"
	)

	GeofenceStaleSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geofence_stale_samples_total",
			Help: "Total location samples rejected for non-increasing sequence",
		},
	)

	// Event Bus
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total events published, by topic class",
		},
		[]string{"topic_class"}, // "personal", "authorities", "alert"
	)

	BusDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_events_delivered_total",
			Help: "Total events placed on subscriber buffers",
		},
	)

	BusGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_gap_markers_total",
			Help: "Total gap markers delivered after subscriber buffer overflow",
		},
	)

	BusSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_subscriptions",
			Help: "Current number of (connection, topic) subscriptions",
		},
	)

	// Mutation Queue
	QueueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutation_queue_enqueued_total",
			Help: "Total mutations appended to the durable queue",
		},
	)

	QueueAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutation_queue_acked_total",
			Help: "Total mutations acknowledged by the sink and removed",
		},
	)

	QueueRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutation_queue_retries_total",
			Help: "Total retry attempts during drain",
		},
	)

	QueueDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutation_queue_dead_lettered_total",
			Help: "Total mutations moved to the dead-letter set",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mutation_queue_depth",
			Help: "Current number of pending mutations",
		},
	)

	QueueDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mutation_queue_drain_duration_seconds",
			Help:    "Duration of drain passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session Gateway
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Current number of connected WebSocket clients",
		},
	)

	GatewayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_total",
			Help: "Total WebSocket messages, by direction",
		},
		[]string{"direction"}, // "inbound", "outbound"
	)
)

// RecordTransition increments the transition counter for a direction.
func RecordTransition(direction string) {
	GeofenceTransitions.WithLabelValues(direction).Inc()
}

// RecordStaleSample increments the stale-sample counter.
func RecordStaleSample() {
	GeofenceStaleSamples.Inc()
}

// RecordPublish increments the published-events counter for a topic class.
func RecordPublish(topicClass string) {
	BusPublished.WithLabelValues(topicClass).Inc()
}

// RecordDelivery increments the delivered-events counter.
func RecordDelivery() {
	BusDelivered.Inc()
}

// RecordGap increments the gap-marker counter.
func RecordGap() {
	BusGaps.Inc()
}

// AddSubscriptions adjusts the subscription gauge by delta.
func AddSubscriptions(delta int) {
	BusSubscriptions.Add(float64(delta))
}

// RecordEnqueue increments the enqueued-mutations counter.
func RecordEnqueue() {
	QueueEnqueued.Inc()
}

// RecordAck increments the acknowledged-mutations counter.
func RecordAck() {
	QueueAcked.Inc()
}

// RecordRetry increments the retry counter.
func RecordRetry() {
	QueueRetries.Inc()
}

// RecordDeadLetter increments the dead-letter counter.
func RecordDeadLetter() {
	QueueDeadLettered.Inc()
}

// SetQueueDepth sets the pending-mutations gauge.
func SetQueueDepth(n int64) {
	QueueDepth.Set(float64(n))
}

// ObserveDrainDuration records one drain pass duration in seconds.
func ObserveDrainDuration(seconds float64) {
	QueueDrainDuration.Observe(seconds)
}

// ConnectionOpened increments the gateway connection gauge.
func ConnectionOpened() {
	GatewayConnections.Inc()
}

// ConnectionClosed decrements the gateway connection gauge.
func ConnectionClosed() {
	GatewayConnections.Dec()
}

// RecordGatewayMessage increments the gateway message counter.
func RecordGatewayMessage(direction string) {
	GatewayMessages.WithLabelValues(direction).Inc()
}
