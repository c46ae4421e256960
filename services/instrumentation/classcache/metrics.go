// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classcache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.apm.classcache")

var (
	typesReported metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		typesReported, metricsErr = meter.Int64Counter(
			"classcache_types_reported_total",
			metric.WithDescription("Types reported to the class cache, by kind"),
		)
	})
	return metricsErr
}

// recordMutation counts one successful report. Mutations carry no context,
// so the background context is used.
func recordMutation(kind Kind) {
	if err := initMetrics(); err != nil {
		return
	}
	typesReported.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind.String())))
}
