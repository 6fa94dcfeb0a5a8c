// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the notes diff engine.
//
// # Description
//
// Metrics cover the whole diff pipeline:
//   - Parse outcomes and block validity
//   - Match tiers used by the applier and per-block failures by kind
//   - Envelopes detected in streams and active streams
//   - Lifecycle transitions and retry outcomes
//
// Every Record method is safe to call on a nil *DiffMetrics, so components
// can run without metrics in tests.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/patch"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "aleutian"
	diffSubsystem    = "notes_diff"
)

// DiffMetrics holds the Prometheus collectors for the diff pipeline.
type DiffMetrics struct {
	// ParsesTotal counts Parse calls. Labels: outcome (ok, no_blocks).
	ParsesTotal *prometheus.CounterVec

	// BlocksTotal counts parsed blocks. Labels: result (valid, incomplete).
	BlocksTotal *prometheus.CounterVec

	// MatchesTotal counts applied blocks. Labels: match_type.
	MatchesTotal *prometheus.CounterVec

	// FailuresTotal counts classified failures. Labels: kind.
	FailuresTotal *prometheus.CounterVec

	// EnvelopesTotal counts distinct envelopes detected in streams.
	EnvelopesTotal prometheus.Counter

	// TransitionsTotal counts lifecycle transitions. Labels: status.
	TransitionsTotal *prometheus.CounterVec

	// RetriesTotal counts retry decisions and results. Labels: outcome.
	RetriesTotal *prometheus.CounterVec

	// ActiveStreams tracks streams being consumed.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures stream consumption time. Labels: status.
	StreamDurationSeconds *prometheus.HistogramVec
}

// NewDiffMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Nil uses prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *DiffMetrics: The metrics. Registering twice on one registry panics.
func NewDiffMetrics(reg prometheus.Registerer) *DiffMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &DiffMetrics{
		ParsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "parses_total",
				Help:      "Total diff payloads parsed by outcome",
			},
			[]string{"outcome"},
		),

		BlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "blocks_total",
				Help:      "Total SEARCH/REPLACE blocks seen by validity",
			},
			[]string{"result"},
		),

		MatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "matches_total",
				Help:      "Total blocks applied by match tier",
			},
			[]string{"match_type"},
		),

		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "failures_total",
				Help:      "Total classified diff failures by kind",
			},
			[]string{"kind"},
		),

		EnvelopesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "envelopes_detected_total",
				Help:      "Total distinct diff envelopes detected in model streams",
			},
		),

		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "transitions_total",
				Help:      "Total diff lifecycle transitions by target status",
			},
			[]string{"status"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "retries_total",
				Help:      "Total retry decisions and results by outcome",
			},
			[]string{"outcome"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "active_streams",
				Help:      "Number of model streams currently being consumed",
			},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: diffSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Model stream consumption time in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
	}
}

// =============================================================================
// Retry Outcomes
// =============================================================================

// RetryOutcome labels RetriesTotal.
type RetryOutcome string

const (
	RetryScheduled RetryOutcome = "scheduled"
	RetryDeclined  RetryOutcome = "declined"
	RetryExhausted RetryOutcome = "exhausted"
	RetrySucceeded RetryOutcome = "succeeded"
	RetryFailed    RetryOutcome = "failed"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordParse records one parse result.
func (m *DiffMetrics) RecordParse(r *blocks.ParseResult) {
	if m == nil || r == nil {
		return
	}
	outcome := "ok"
	if !r.HasBlocks() {
		outcome = "no_blocks"
	}
	m.ParsesTotal.WithLabelValues(outcome).Inc()
	m.BlocksTotal.WithLabelValues("valid").Add(float64(r.Stats.ValidBlocks))
	m.BlocksTotal.WithLabelValues("incomplete").Add(float64(r.Stats.IncompleteBlocks))
}

// RecordApply records the match tier of every applied block.
func (m *DiffMetrics) RecordApply(r *patch.ApplyResult) {
	if m == nil || r == nil {
		return
	}
	for _, d := range r.AppliedDetails {
		m.MatchesTotal.WithLabelValues(string(d.MatchType)).Inc()
	}
}

// RecordFailure records one classified failure.
func (m *DiffMetrics) RecordFailure(kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

// RecordEnvelope records one newly detected envelope.
func (m *DiffMetrics) RecordEnvelope() {
	if m == nil {
		return
	}
	m.EnvelopesTotal.Inc()
}

// RecordTransition records a lifecycle transition into status.
func (m *DiffMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(status).Inc()
}

// RecordRetry records a retry decision or result.
func (m *DiffMetrics) RecordRetry(outcome RetryOutcome) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(string(outcome)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *DiffMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge and records the duration.
func (m *DiffMetrics) StreamEnded(seconds float64, success bool) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}
