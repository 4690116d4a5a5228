// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the gateway.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the remediation
// gateway. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Session and task outcome counters
//   - Review decision counters (accept / reject / apply-all)
//   - Upload size and violations-per-file histograms
//   - Active websocket stream gauges
//
// It also owns tracer setup (tracing.go) and the bridge that exposes the
// pipeline's OpenTelemetry instruments on the Prometheus /metrics endpoint.
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "misrafix"

// Subsystem for gateway metrics
const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for the remediation gateway.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring session intake,
// review decisions, and websocket event delivery. Initialize once at startup
// via InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of API requests by endpoint and status
//   - SessionsCreatedTotal: Counter of remediation sessions opened
//   - ViolationsPerSession: Histogram of violations found per uploaded file
//   - UploadBytes: Histogram of uploaded source file sizes
//   - DecisionsTotal: Counter of review decisions by kind
//   - ActiveEventStreams: Gauge of connected websocket clients
//   - EventsSentTotal: Counter of task events pushed over websockets
//   - ErrorsTotal: Counter of errors by type and endpoint
//
// # Thread Safety
//
// All operations are thread-safe.
type GatewayMetrics struct {
	// RequestsTotal counts API requests by endpoint and status.
	// Labels: endpoint (create_session, task_patch, ...), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// SessionsCreatedTotal counts remediation sessions opened via the API.
	SessionsCreatedTotal prometheus.Counter

	// ViolationsPerSession measures how many violations the analyzer found
	// in each uploaded file. Zero-violation uploads land in the first bucket.
	ViolationsPerSession prometheus.Histogram

	// UploadBytes measures the size of uploaded source files.
	UploadBytes prometheus.Histogram

	// DecisionsTotal counts review decisions taken on generated patches.
	// Labels: decision (accept, reject, apply_all)
	DecisionsTotal *prometheus.CounterVec

	// ActiveEventStreams tracks currently connected websocket clients.
	ActiveEventStreams prometheus.Gauge

	// EventsSentTotal counts task status events pushed to websocket clients.
	EventsSentTotal prometheus.Counter

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code (validation, not_found, conflict, etc.)
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of GatewayMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *GatewayMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *GatewayMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total number of API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		SessionsCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "sessions_created_total",
				Help:      "Total remediation sessions opened via the API",
			},
		),

		ViolationsPerSession: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "violations_per_session",
				Help:      "Violations found by the analyzer per uploaded file",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),

		UploadBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "upload_bytes",
				Help:      "Size of uploaded source files in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "decisions_total",
				Help:      "Total review decisions on generated patches by kind",
			},
			[]string{"decision"},
		),

		ActiveEventStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_event_streams",
				Help:      "Number of currently connected websocket clients",
			},
		),

		EventsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "events_sent_total",
				Help:      "Total task status events pushed to websocket clients",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Total API errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates an unknown session or task ID.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeConflict indicates a decision rejected by pipeline state
	// (task not validated, session closed, stale snapshot).
	ErrorCodeConflict ErrorCode = "conflict"

	// ErrorCodeUploadTooLarge indicates an upload over the size limit.
	ErrorCodeUploadTooLarge ErrorCode = "upload_too_large"

	// ErrorCodeAnalyzer indicates a cppcheck invocation failure.
	ErrorCodeAnalyzer ErrorCode = "analyzer_error"

	// ErrorCodeWebsocket indicates a websocket upgrade or write failure.
	ErrorCodeWebsocket ErrorCode = "websocket"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents an API endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointCreateSession is the session upload endpoint.
	EndpointCreateSession Endpoint = "create_session"

	// EndpointListSessions is the session listing endpoint.
	EndpointListSessions Endpoint = "list_sessions"

	// EndpointGetSession is the single session summary endpoint.
	EndpointGetSession Endpoint = "get_session"

	// EndpointSessionTasks is the task detail listing endpoint.
	EndpointSessionTasks Endpoint = "session_tasks"

	// EndpointTaskPatch is the raw patch retrieval endpoint.
	EndpointTaskPatch Endpoint = "task_patch"

	// EndpointAcceptTask is the patch accept endpoint.
	EndpointAcceptTask Endpoint = "accept_task"

	// EndpointRejectTask is the patch reject endpoint.
	EndpointRejectTask Endpoint = "reject_task"

	// EndpointApplySession is the apply-all endpoint.
	EndpointApplySession Endpoint = "apply_session"

	// EndpointDeleteSession is the session removal endpoint.
	EndpointDeleteSession Endpoint = "delete_session"

	// EndpointEvents is the websocket event stream endpoint.
	EndpointEvents Endpoint = "events"
)

// =============================================================================
// Decision Kinds
// =============================================================================

// Decision represents a review decision for metrics labeling.
type Decision string

const (
	// DecisionAccept is a single-patch accept.
	DecisionAccept Decision = "accept"

	// DecisionReject is a single-patch reject.
	DecisionReject Decision = "reject"

	// DecisionApplyAll is a bulk apply of every validated patch.
	DecisionApplyAll Decision = "apply_all"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed API request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
func (m *GatewayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records an API error.
//
// # Inputs
//
//   - endpoint: The endpoint where the error occurred.
//   - code: The error type code.
func (m *GatewayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordSessionCreated records a successful session upload.
//
// # Inputs
//
//   - violations: Number of violations the analyzer found in the file.
//   - uploadBytes: Size of the uploaded file in bytes.
func (m *GatewayMetrics) RecordSessionCreated(violations int, uploadBytes int) {
	m.SessionsCreatedTotal.Inc()
	m.ViolationsPerSession.Observe(float64(violations))
	m.UploadBytes.Observe(float64(uploadBytes))
}

// RecordDecision records a review decision on a generated patch.
//
// # Inputs
//
//   - decision: The decision kind (accept, reject, apply_all).
func (m *GatewayMetrics) RecordDecision(decision Decision) {
	m.DecisionsTotal.WithLabelValues(string(decision)).Inc()
}

// StreamOpened increments the active event streams gauge.
func (m *GatewayMetrics) StreamOpened() {
	m.ActiveEventStreams.Inc()
}

// StreamClosed decrements the active event streams gauge.
func (m *GatewayMetrics) StreamClosed() {
	m.ActiveEventStreams.Dec()
}

// RecordEventSent increments the pushed-events counter.
func (m *GatewayMetrics) RecordEventSent() {
	m.EventsSentTotal.Inc()
}
