// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for seestarlink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the telescope bridge.
type Metrics struct {
	// Session metrics
	SessionState    *prometheus.GaugeVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	HeartbeatMisses prometheus.Counter
	Reconnects      prometheus.Counter
	EventsTotal     *prometheus.CounterVec
	DecodeErrors    prometheus.Counter

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter

	// Visibility metrics
	VisibilityChecks *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "seestarlink"
	}

	return &Metrics{
		SessionState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_state",
				Help:      "Current session state (0=disconnected 1=initializing 2=connected 3=degraded 4=reconnecting)",
			},
			[]string{"host"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total telescope requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Telescope request round-trip duration",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"method"},
		),
		HeartbeatMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_misses_total",
				Help:      "Total missed or failed heartbeats",
			},
		),
		Reconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total reconnection attempts",
			},
		),
		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total unsolicited telescope events by name",
			},
			[]string{"event"},
		),
		DecodeErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Total inbound frames dropped as undecodable",
			},
		),
		ResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total target resolutions by catalog and outcome",
			},
			[]string{"catalog", "outcome"},
		),
		ResolutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Catalog query duration",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
			},
			[]string{"catalog"},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_hits_total",
				Help:      "Total resolver cache hits",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_misses_total",
				Help:      "Total resolver cache misses",
			},
		),
		VisibilityChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visibility_checks_total",
				Help:      "Total visibility checks by outcome",
			},
			[]string{"outcome"},
		),
	}
}
