// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for pipeline runs.
var meter = otel.Meter("ace.pipeline")

// Metrics for run outcomes.
var (
	runDuration  metric.Float64Histogram
	filesScanned metric.Int64Counter
	filesSkipped metric.Int64Counter
	plansDecided metric.Int64Counter
	commitsTotal metric.Int64Counter
	revertsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"pipeline_run_duration_seconds",
			metric.WithDescription("Wall time of full pipeline runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesScanned, err = meter.Int64Counter(
			"pipeline_files_scanned_total",
			metric.WithDescription("Files that received deep analysis"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesSkipped, err = meter.Int64Counter(
			"pipeline_files_skipped_total",
			metric.WithDescription("Files skipped via the clean-run index"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		plansDecided, err = meter.Int64Counter(
			"pipeline_plans_decided_total",
			metric.WithDescription("Policy decisions on edit plans, by decision"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitsTotal, err = meter.Int64Counter(
			"pipeline_commits_total",
			metric.WithDescription("Durably committed file writes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		revertsTotal, err = meter.Int64Counter(
			"pipeline_reverts_total",
			metric.WithDescription("Executed rollback writes"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRun records the shape of one completed run.
func recordRun(ctx context.Context, result *RunResult, elapsed time.Duration) {
	if initMetrics() != nil {
		return
	}
	runDuration.Record(ctx, elapsed.Seconds())
	filesScanned.Add(ctx, int64(result.FilesScanned))
	filesSkipped.Add(ctx, int64(result.FilesSkipped))
	commitsTotal.Add(ctx, int64(result.PlansApplied))
}

// recordDecision records one policy decision.
func recordDecision(ctx context.Context, decision string) {
	if initMetrics() != nil {
		return
	}
	plansDecided.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// recordRevert records one executed rollback.
func recordRevert(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	revertsTotal.Add(ctx, 1)
}
