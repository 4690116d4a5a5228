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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Tracer Setup
// =============================================================================

// TracerConfig holds tracer initialization options.
//
// # Fields
//
//   - ServiceName: Value of the service.name resource attribute.
//   - Endpoint: OTLP gRPC collector endpoint, e.g. "localhost:4317".
//   - Stdout: When true, spans are pretty-printed to stdout instead of
//     being exported over OTLP. Useful for local debugging without a
//     collector.
type TracerConfig struct {
	ServiceName string
	Endpoint    string
	Stdout      bool
}

// InitTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up the global tracer provider with a batching span processor and
// W3C trace context propagation. Spans go to the OTLP collector at
// cfg.Endpoint, or to stdout when cfg.Stdout is set. The OTLP path uses
// a lazy gRPC connection, so an unreachable collector does not fail
// startup; export errors surface through the OTel error handler.
//
// # Inputs
//
//   - cfg: Tracer configuration. ServiceName must be non-empty.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown.
//   - error: Non-nil if tracer setup fails.
//
// # Limitations
//
//   - Uses insecure gRPC credentials (appropriate for internal networks).
//
// # Assumptions
//
//   - Called once at startup before any spans are created.
func InitTracer(cfg TracerConfig) (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	var err error

	if cfg.Stdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	} else {
		conn, connErr := grpc.NewClient(cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if connErr != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", connErr)
		}

		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}

	return cleanup, nil
}

// =============================================================================
// Prometheus Metrics Bridge
// =============================================================================

// metricsHandler caches the bridged /metrics handler.
// Access via MetricsHandler().
var (
	metricsHandlerOnce sync.Once
	metricsHandler     http.Handler
	metricsHandlerErr  error
)

// MetricsHandler returns the HTTP handler for the /metrics endpoint.
//
// # Description
//
// Builds the handler on first call: an OpenTelemetry Prometheus exporter
// is registered as a collector with the default Prometheus registry and
// installed as the global meter provider. The remediation pipeline records
// its instruments (task duration, retries, lane queue depth) through the
// OTel meter, so bridging makes them visible on /metrics next to the
// promauto gateway metrics, which live in the same default registry.
//
// # Outputs
//
//   - http.Handler: Handler serving the Prometheus exposition format.
//   - error: Non-nil if the exporter could not be created.
//
// # Thread Safety
//
// Safe for concurrent use. Initialization happens exactly once.
func MetricsHandler() (http.Handler, error) {
	metricsHandlerOnce.Do(func() {
		exporter, err := promexporter.New()
		if err != nil {
			metricsHandlerErr = fmt.Errorf("create prometheus exporter: %w", err)
			return
		}

		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(mp)

		metricsHandler = promhttp.Handler()
	})
	return metricsHandler, metricsHandlerErr
}
