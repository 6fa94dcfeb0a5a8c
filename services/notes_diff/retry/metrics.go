// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for retry operations.
var (
	tracer = otel.Tracer("aleutian.notes_diff.retry")
	meter  = otel.Meter("aleutian.notes_diff.retry")
)

var (
	retryAttempts metric.Int64Counter
	retryLatency  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		retryAttempts, err = meter.Int64Counter(
			"notes_diff_retry_attempts_total",
			metric.WithDescription("Regeneration attempts by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		retryLatency, err = meter.Float64Histogram(
			"notes_diff_retry_duration_seconds",
			metric.WithDescription("Duration of regeneration attempts including delay"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordAttempt records one regeneration attempt.
func recordAttempt(ctx context.Context, outcome string, seconds float64) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	retryAttempts.Add(ctx, 1, attrs)
	retryLatency.Record(ctx, seconds, attrs)
}
