// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the playback daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionState reports the current session state as a one-hot gauge.
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtsp2go_session_state",
		Help: "Current playback session state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	// EventsEnqueued counts session events accepted into the queue by type.
	EventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp2go_session_events_enqueued_total",
		Help: "Session events enqueued by the event bridge",
	}, []string{"type"})

	// EventsCoalesced counts low-value events merged into their predecessor
	// instead of being enqueued.
	EventsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp2go_session_events_coalesced_total",
		Help: "Duplicate progress events coalesced in the queue",
	}, []string{"type"})

	// EventsDrained counts events consumed by DrainEvents.
	EventsDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp2go_session_events_drained_total",
		Help: "Session events applied by the consumer",
	}, []string{"type"})

	// QueueDepth reports the number of events waiting to be drained.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtsp2go_session_queue_depth",
		Help: "Events currently queued between bridge and consumer",
	})

	// ReconnectAttempts counts reconnect attempts issued by the policy.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtsp2go_reconnect_attempts_total",
		Help: "Reconnect attempts issued after stream errors",
	})

	// ReconnectExhausted counts reconnect give-ups after the attempt budget.
	ReconnectExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtsp2go_reconnect_exhausted_total",
		Help: "Reconnect sequences abandoned after exhausting the attempt budget",
	})

	// IntentOps counts intent operations by operation and outcome.
	IntentOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp2go_intent_operations_total",
		Help: "Intent operations (play, pause, resume, stop, seek) by outcome",
	}, []string{"op", "outcome"})

	// PositionSeconds reports the last polled playback position.
	PositionSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtsp2go_position_seconds",
		Help: "Last observed playback position in seconds",
	})

	// DurationSeconds reports the last known stream duration (0 while unknown).
	DurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtsp2go_duration_seconds",
		Help: "Last known stream duration in seconds (0 while unknown)",
	})

	// HTTPRequestDuration tracks control API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtsp2go_http_request_duration_seconds",
		Help:    "HTTP request duration by route and status class",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route", "status"})

	// RateLimitRejections counts requests rejected by the API rate limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp2go_ratelimit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"scope"})
)

// knownStates keeps the one-hot state gauge consistent: every transition
// zeroes the others. Must match the session state names.
var knownStates = []string{
	"uninitialized", "ready", "playing", "paused",
	"buffering", "reconnecting", "stopped", "failed",
}

// SetSessionState marks the given state active and all others inactive.
func SetSessionState(state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}

// IncEventEnqueued records an event accepted into the queue.
func IncEventEnqueued(eventType string) {
	EventsEnqueued.WithLabelValues(eventType).Inc()
}

// IncEventCoalesced records a duplicate progress event merged away.
func IncEventCoalesced(eventType string) {
	EventsCoalesced.WithLabelValues(eventType).Inc()
}

// IncEventDrained records an event applied by the consumer.
func IncEventDrained(eventType string) {
	EventsDrained.WithLabelValues(eventType).Inc()
}

// SetQueueDepth publishes the current queue depth.
func SetQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// IncReconnectAttempt records one reconnect attempt.
func IncReconnectAttempt() {
	ReconnectAttempts.Inc()
}

// IncReconnectExhausted records an abandoned reconnect sequence.
func IncReconnectExhausted() {
	ReconnectExhausted.Inc()
}

// IncIntentOp records an intent operation outcome.
func IncIntentOp(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	IntentOps.WithLabelValues(op, outcome).Inc()
}

// SetPosition publishes the polled position and duration.
func SetPosition(position, duration time.Duration) {
	PositionSeconds.Set(position.Seconds())
	DurationSeconds.Set(duration.Seconds())
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(route, status string, elapsed time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, status).Observe(elapsed.Seconds())
}

// IncRateLimitRejection records a rejected request.
func IncRateLimitRejection(scope string) {
	RateLimitRejections.WithLabelValues(scope).Inc()
}
