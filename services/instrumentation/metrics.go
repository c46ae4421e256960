// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrumentation

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.apm.instrumentation")
	meter  = otel.Meter("aleutian.apm.instrumentation")
)

var (
	connectsTotal     metric.Int64Counter
	classReportsTotal metric.Int64Counter
	applierFailures   metric.Int64Counter
	decisionLatency   metric.Float64Histogram
	connectedAgents   metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		connectsTotal, err = meter.Int64Counter(
			"cmr_agent_connects_total",
			metric.WithDescription("Agent connect attempts by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		classReportsTotal, err = meter.Int64Counter(
			"cmr_class_reports_total",
			metric.WithDescription("Reported classes by decision"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applierFailures, err = meter.Int64Counter(
			"cmr_applier_failures_total",
			metric.WithDescription("Appliers that panicked while evaluating a class"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		decisionLatency, err = meter.Float64Histogram(
			"cmr_class_decision_duration_seconds",
			metric.WithDescription("Time to decide the instrumentation of one class"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		connectedAgents, err = meter.Int64UpDownCounter(
			"cmr_connected_agents",
			metric.WithDescription("Agents with an active session"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordConnect(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	connectsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordClassReport(ctx context.Context, decision string, seconds float64) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("decision", decision))
	classReportsTotal.Add(ctx, 1, attrs)
	decisionLatency.Record(ctx, seconds, attrs)
}

func recordApplierFailure(ctx context.Context, kind string) {
	if err := initMetrics(); err != nil {
		return
	}
	applierFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordAgents(ctx context.Context, delta int64) {
	if err := initMetrics(); err != nil {
		return
	}
	connectedAgents.Add(ctx, delta)
}
