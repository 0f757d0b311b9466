// Package metrics registers the prometheus collectors for the continuity
// subsystem. All collectors are process-global and auto-registered.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "continuity_frames_appended_total",
		Help: "Frames appended across all buffer entries.",
	})

	FramesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "continuity_frames_evicted_total",
		Help: "Frames evicted by size or count limits at append time.",
	})

	BufferedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "continuity_buffered_bytes",
		Help: "Aggregate bytes currently buffered across all entries.",
	})

	BufferEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "continuity_buffer_entries",
		Help: "Buffer entries currently resident.",
	})

	VideoSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "continuity_video_sessions",
		Help: "Video sessions currently tracked.",
	})

	GraceExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "continuity_grace_expirations_total",
		Help: "Video sessions removed because the grace period lapsed.",
	})

	InactivityRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "continuity_inactivity_removals_total",
		Help: "Video sessions removed by the inactivity timeout.",
	})

	ReconnectSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "continuity_reconnect_sessions",
		Help: "Transport sessions currently tracked by the reconnect scheduler.",
	})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "continuity_reconnect_attempts_total",
		Help: "Reconnection attempts dispatched.",
	})

	ReconnectSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "continuity_reconnect_successes_total",
		Help: "Reconnections confirmed.",
	})

	ReconnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "continuity_reconnect_failures_total",
		Help: "Sessions that exhausted their retry or timeout budget.",
	})
)
