// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the BEADS proxy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy. Create it once per
// process; vectors are registered with the default registry.
type Metrics struct {
	// Session metrics
	ActiveSessions  *prometheus.GaugeVec
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Accept path metrics
	DialErrors         *prometheus.CounterVec
	RejectedSessions   *prometheus.CounterVec
	RateLimitedAccepts *prometheus.CounterVec

	// Relay metrics
	RelayBytes    *prometheus.CounterVec
	RelayMessages *prometheus.CounterVec
	DroppedChunks *prometheus.CounterVec
	RelayErrors   *prometheus.CounterVec
}

// New creates a Metrics instance with all counters, gauges, and histograms.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "beads"
	}

	return &Metrics{
		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently relaying switch/controller sessions",
			},
			[]string{"listener"},
		),
		SessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of sessions by terminal status",
			},
			[]string{"listener", "status"},
		),
		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 3600},
			},
			[]string{"listener"},
		),
		DialErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controller_dial_errors_total",
				Help:      "Total number of failed controller dials",
			},
			[]string{"listener", "reason"},
		),
		RejectedSessions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_sessions_total",
				Help:      "Total number of sessions rejected by the interceptor",
			},
			[]string{"listener"},
		),
		RateLimitedAccepts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_accepts_total",
				Help:      "Total number of accepts dropped by the rate limiter",
			},
			[]string{"listener"},
		),
		RelayBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_bytes_total",
				Help:      "Total bytes forwarded per direction",
			},
			[]string{"listener", "direction"},
		),
		RelayMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_messages_total",
				Help:      "Total chunks or OpenFlow messages forwarded per direction",
			},
			[]string{"listener", "direction"},
		),
		DroppedChunks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_chunks_total",
				Help:      "Total chunks discarded on interceptor instruction",
			},
			[]string{"listener", "direction"},
		),
		RelayErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_errors_total",
				Help:      "Total sessions terminated by a relay I/O error",
			},
			[]string{"listener", "direction"},
		),
	}
}

// ObserveSession tracks one session from establishment to terminal state.
func (m *Metrics) ObserveSession(listener string, f func() error) error {
	m.ActiveSessions.WithLabelValues(listener).Inc()
	defer m.ActiveSessions.WithLabelValues(listener).Dec()

	start := time.Now()
	defer func() {
		m.SessionDuration.WithLabelValues(listener).Observe(time.Since(start).Seconds())
	}()

	err := f()
	status := "clean"
	if err != nil {
		status = "error"
	}
	m.SessionsTotal.WithLabelValues(listener, status).Inc()

	return err
}
