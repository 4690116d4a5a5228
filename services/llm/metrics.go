package llm

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for inference operations.
var (
	laneTracer = otel.Tracer("misrafix.llm")
	meter      = otel.Meter("misrafix.llm")
)

// Metrics for the inference lane and the completion cache.
var (
	laneWaitLatency     metric.Float64Histogram
	laneGenerateLatency metric.Float64Histogram
	laneGenerations     metric.Int64Counter
	laneQueueDepth      metric.Int64UpDownCounter
	completionCacheHits metric.Int64Counter
	completionCacheMiss metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		laneWaitLatency, err = meter.Float64Histogram(
			"llm_lane_wait_duration_seconds",
			metric.WithDescription("Time requests spend queued behind the inference lane"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		laneGenerateLatency, err = meter.Float64Histogram(
			"llm_generate_duration_seconds",
			metric.WithDescription("Duration of model generate calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		laneGenerations, err = meter.Int64Counter(
			"llm_generations_total",
			metric.WithDescription("Total generate calls by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		laneQueueDepth, err = meter.Int64UpDownCounter(
			"llm_lane_queue_depth",
			metric.WithDescription("Requests currently queued or running on the lane"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		completionCacheHits, err = meter.Int64Counter(
			"llm_completion_cache_hits_total",
			metric.WithDescription("Completions served from the in-memory cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		completionCacheMiss, err = meter.Int64Counter(
			"llm_completion_cache_misses_total",
			metric.WithDescription("Completions that required a model call"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}
