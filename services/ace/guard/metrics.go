// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for guard verification.
var meter = otel.Meter("ace.guard")

// Metrics for guard operations.
var (
	checkLatency metric.Float64Histogram
	checkTotal   metric.Int64Counter
	checkFailed  metric.Int64Counter
	cacheHits    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkLatency, err = meter.Float64Histogram(
			"guard_check_duration_seconds",
			metric.WithDescription("Duration of guard verification checks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkTotal, err = meter.Int64Counter(
			"guard_checks_total",
			metric.WithDescription("Total number of guard checks"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkFailed, err = meter.Int64Counter(
			"guard_failures_total",
			metric.WithDescription("Guard checks that rejected a transformation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheHits, err = meter.Int64Counter(
			"guard_cache_hits_total",
			metric.WithDescription("Guard checks answered from the result cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordGuardCheck records one GuardEdit outcome. Metric failures are
// never allowed to affect verification.
func recordGuardCheck(ctx context.Context, result *Result, elapsed time.Duration, fromCache bool) {
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("guard_type", string(result.GuardType)),
		attribute.Bool("passed", result.Passed),
	)

	checkTotal.Add(ctx, 1, attrs)
	checkLatency.Record(ctx, elapsed.Seconds(), attrs)
	if !result.Passed {
		checkFailed.Add(ctx, 1, attrs)
	}
	if fromCache {
		cacheHits.Add(ctx, 1, attrs)
	}
}
