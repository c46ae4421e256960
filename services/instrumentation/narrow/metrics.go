// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package narrow

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for narrowing.
var (
	tracer = otel.Tracer("aleutian.apm.narrow")
	meter  = otel.Meter("aleutian.apm.narrow")
)

var (
	narrowLatency   metric.Float64Histogram
	narrowResults   metric.Int64Histogram
	containsLatency metric.Float64Histogram
	containsHits    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		narrowLatency, err = meter.Float64Histogram(
			"narrow_duration_seconds",
			metric.WithDescription("Duration of hierarchy narrowing"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		narrowResults, err = meter.Int64Histogram(
			"narrow_result_classes",
			metric.WithDescription("Number of classes returned per narrowing"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		containsLatency, err = meter.Float64Histogram(
			"narrow_contains_duration_seconds",
			metric.WithDescription("Duration of single-class membership checks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		containsHits, err = meter.Int64Counter(
			"narrow_contains_total",
			metric.WithDescription("Single-class membership checks by mode and result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordNarrow(ctx context.Context, mode string, duration time.Duration, resultCount int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	narrowLatency.Record(ctx, duration.Seconds(), attrs)
	narrowResults.Record(ctx, int64(resultCount), attrs)
}

func recordContains(ctx context.Context, mode string, duration time.Duration, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	containsLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
	containsHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("hit", hit),
	))
}
