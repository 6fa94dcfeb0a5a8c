// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/patch"
)

func TestNewDiffMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDiffMetrics(reg)
	require.NotNil(t, m)

	m.RecordEnvelope()
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordParseAndApply(t *testing.T) {
	m := NewDiffMetrics(prometheus.NewRegistry())

	parsed := blocks.Parse("<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE")
	m.RecordParse(parsed)
	m.RecordParse(blocks.Parse("nothing"))
	m.RecordApply(patch.Apply("a", parsed.Blocks))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParsesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParsesTotal.WithLabelValues("no_blocks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlocksTotal.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchesTotal.WithLabelValues("exact")))
}

func TestRecordRetryAndTransitions(t *testing.T) {
	m := NewDiffMetrics(prometheus.NewRegistry())

	m.RecordRetry(RetryScheduled)
	m.RecordRetry(RetryScheduled)
	m.RecordRetry(RetryExhausted)
	m.RecordTransition("accepted")
	m.RecordFailure("search_not_found")
	m.StreamStarted()
	m.StreamEnded(1.5, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("search_not_found")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *DiffMetrics

	assert.NotPanics(t, func() {
		m.RecordParse(&blocks.ParseResult{})
		m.RecordApply(&patch.ApplyResult{})
		m.RecordFailure("x")
		m.RecordEnvelope()
		m.RecordTransition("pending")
		m.RecordRetry(RetryFailed)
		m.StreamStarted()
		m.StreamEnded(1, false)
	})
}
