// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("misrafix.pipeline")
	meter  = otel.Meter("misrafix.pipeline")

	taskDuration    metric.Float64Histogram
	taskOutcomes    metric.Int64Counter
	taskAttempts    metric.Int64Histogram
	activeSessions  metric.Int64UpDownCounter
	patchesApplied  metric.Int64Counter
	staleDetections metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		taskDuration, metricsErr = meter.Float64Histogram(
			"misrafix.pipeline.task.duration",
			metric.WithDescription("Wall-clock seconds from task start to terminal or validated state"),
			metric.WithUnit("s"),
		)
		if metricsErr != nil {
			return
		}
		taskOutcomes, metricsErr = meter.Int64Counter(
			"misrafix.pipeline.task.outcomes",
			metric.WithDescription("Tasks by final pipeline outcome"),
		)
		if metricsErr != nil {
			return
		}
		taskAttempts, metricsErr = meter.Int64Histogram(
			"misrafix.pipeline.task.attempts",
			metric.WithDescription("Generation attempts consumed per task"),
		)
		if metricsErr != nil {
			return
		}
		activeSessions, metricsErr = meter.Int64UpDownCounter(
			"misrafix.pipeline.sessions.active",
			metric.WithDescription("Remediation sessions currently running"),
		)
		if metricsErr != nil {
			return
		}
		patchesApplied, metricsErr = meter.Int64Counter(
			"misrafix.pipeline.patches.applied",
			metric.WithDescription("Patches committed to disk"),
		)
		if metricsErr != nil {
			return
		}
		staleDetections, metricsErr = meter.Int64Counter(
			"misrafix.pipeline.stale.detections",
			metric.WithDescription("Tasks invalidated because their source snapshot went stale"),
		)
	})
	return metricsErr
}

func outcomeAttr(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
