// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.apm.resolver")
	meter  = otel.Meter("aleutian.apm.resolver")
)

var (
	resolutionsTotal    metric.Int64Counter
	profilesSkipped     metric.Int64Counter
	appliersPerResolved metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		resolutionsTotal, err = meter.Int64Counter(
			"resolver_environment_resolutions_total",
			metric.WithDescription("Agent environment resolutions by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		profilesSkipped, err = meter.Int64Counter(
			"resolver_profiles_skipped_total",
			metric.WithDescription("Profiles skipped during resolution by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		appliersPerResolved, err = meter.Int64Histogram(
			"resolver_appliers",
			metric.WithDescription("Instrumentation appliers built per environment"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordResolution(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	resolutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordProfileSkipped(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	profilesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordAppliers(ctx context.Context, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	appliersPerResolved.Record(ctx, int64(n))
}
