// Package metrics provides Prometheus collectors for voice sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livevoice"

var (
	// sessionsActive is a gauge of sessions past the handshake.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions with a completed handshake",
		},
	)

	// handshakeDuration is a histogram of connect-to-ack latency.
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from connect to handshake acknowledgement in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"}, // status: success, error
	)

	// responseLatency is a histogram of user-turn-end to first-audio latency.
	responseLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from the end of a user turn to the first inbound audio chunk",
			Buckets:   []float64{.1, .25, .5, .75, 1, 1.5, 2, 3, 5},
		},
	)

	// framesTotal counts captured frames by outcome.
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of captured audio frames",
		},
		[]string{"outcome"}, // outcome: sent, dropped
	)

	// audioChunksReceived counts inbound audio chunks.
	audioChunksReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total number of inbound audio chunks",
		},
	)

	// buffersScheduled counts sub-buffers handed to the speaker.
	buffersScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_scheduled_total",
			Help:      "Total number of playback sub-buffers scheduled",
		},
	)

	// interruptions counts playback flushes by source.
	interruptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Total number of playback interruptions",
		},
		[]string{"source"}, // source: host, remote
	)

	// unrecognizedMessages counts inbound messages with an unknown shape.
	unrecognizedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrecognized_messages_total",
			Help:      "Total number of inbound messages that matched no known shape",
		},
	)

	// sessionErrors counts classified failures.
	sessionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Total number of classified session errors",
		},
		[]string{"kind"},
	)

	// configAdjustments counts fields replaced by defaults during validation.
	configAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_adjustments_total",
			Help:      "Total number of configuration values replaced by safe defaults",
		},
		[]string{"field"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		handshakeDuration,
		responseLatency,
		framesTotal,
		audioChunksReceived,
		buffersScheduled,
		interruptions,
		unrecognizedMessages,
		sessionErrors,
		configAdjustments,
	}
)

// Outcome and status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	FrameSent    = "sent"
	FrameDropped = "dropped"

	SourceHost   = "host"
	SourceRemote = "remote"
)

// RecordHandshake records a finished handshake attempt.
func RecordHandshake(status string, durationSeconds float64) {
	handshakeDuration.WithLabelValues(status).Observe(durationSeconds)
	if status == StatusSuccess {
		sessionsActive.Inc()
	}
}

// RecordSessionEnd records a handshaken session going away.
func RecordSessionEnd() {
	sessionsActive.Dec()
}

// RecordResponseLatency records time to first audio for a turn.
func RecordResponseLatency(durationSeconds float64) {
	responseLatency.Observe(durationSeconds)
}

// RecordFrame records a captured frame outcome.
func RecordFrame(outcome string) {
	framesTotal.WithLabelValues(outcome).Inc()
}

// RecordAudioChunk records an inbound audio chunk.
func RecordAudioChunk() {
	audioChunksReceived.Inc()
}

// RecordBuffersScheduled records n sub-buffers scheduled.
func RecordBuffersScheduled(n int) {
	if n > 0 {
		buffersScheduled.Add(float64(n))
	}
}

// RecordInterruption records a playback flush.
func RecordInterruption(source string) {
	interruptions.WithLabelValues(source).Inc()
}

// RecordUnrecognizedMessage records an inbound message nobody handled.
func RecordUnrecognizedMessage() {
	unrecognizedMessages.Inc()
}

// RecordError records a classified error.
func RecordError(kind string) {
	sessionErrors.WithLabelValues(kind).Inc()
}

// RecordConfigAdjustment records a field replaced during validation.
func RecordConfigAdjustment(field string) {
	configAdjustments.WithLabelValues(field).Inc()
}
