// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP and websocket endpoints.
//
// Handlers are factory functions taking their dependencies (the pipeline
// manager, limits) and returning gin.HandlerFunc. Session and task
// payloads are the pipeline's own JSON views; errors are gin.H with an
// "error" key and a status code mapped from the pipeline sentinel errors.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/MisraFix/pkg/validation"
	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/gateway/datatypes"
	"github.com/AleutianAI/MisraFix/services/gateway/observability"
)

var sessionTracer = otel.Tracer("misrafix.gateway.handlers")

// CreateSession handles POST /v1/sessions.
//
// # Description
//
// Accepts {filename, content}, validates the filename against the source
// extension allowlist, stages the content in a per-session workspace dir,
// runs extraction, and starts remediation in the background. Responds 201
// with the session summary as soon as tasks exist; patch generation
// progress streams over the events websocket.
//
// # Inputs (via factory)
//
//   - manager: The pipeline session manager.
//   - maxUploadBytes: Upload size cap; <= 0 falls back to the default.
func CreateSession(manager *pipeline.Manager, maxUploadBytes int) gin.HandlerFunc {
	if maxUploadBytes <= 0 {
		maxUploadBytes = datatypes.DefaultMaxUploadBytes
	}

	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "CreateSession")
		defer span.End()

		var req datatypes.CreateSessionRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the create session request", "error", err)
			recordError(observability.EndpointCreateSession, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if len(req.Content) > maxUploadBytes {
			slog.Warn("Rejected oversized upload",
				"filename", req.Filename, "bytes", len(req.Content), "limit", maxUploadBytes)
			recordError(observability.EndpointCreateSession, observability.ErrorCodeUploadTooLarge)
			c.JSON(http.StatusRequestEntityTooLarge,
				gin.H{"error": "file exceeds the upload size limit"})
			return
		}

		fileName, err := validation.SanitizeFilename(req.Filename)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			recordError(observability.EndpointCreateSession, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("session.file", fileName))

		s, err := manager.StartUpload(ctx, fileName, []byte(req.Content))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to open remediation session",
				"filename", fileName, "error", err)
			recordError(observability.EndpointCreateSession, observability.ErrorCodeAnalyzer)
			recordRequest(observability.EndpointCreateSession, false)
			c.JSON(http.StatusUnprocessableEntity,
				gin.H{"error": "analysis failed: " + err.Error()})
			return
		}

		summary := s.Summarize()
		slog.Info("Remediation session created",
			"sessionId", s.ID, "filename", fileName, "violations", summary.TaskCount)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordSessionCreated(summary.TaskCount, len(req.Content))
		}
		recordRequest(observability.EndpointCreateSession, true)

		c.JSON(http.StatusCreated, summary)
	}
}

// ListSessions handles GET /v1/sessions.
func ListSessions(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := manager.Sessions()
		summaries := make([]pipeline.Summary, 0, len(sessions))
		for _, s := range sessions {
			summaries = append(summaries, s.Summarize())
		}
		recordRequest(observability.EndpointListSessions, true)
		c.JSON(http.StatusOK, gin.H{"sessions": summaries})
	}
}

// GetSession handles GET /v1/sessions/:id.
func GetSession(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := manager.Session(c.Param("id"))
		if err != nil {
			recordError(observability.EndpointGetSession, observability.ErrorCodeNotFound)
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		recordRequest(observability.EndpointGetSession, true)
		c.JSON(http.StatusOK, datatypes.SessionDetailResponse{
			Session: s.Summarize(),
			Tasks:   taskViews(s),
		})
	}
}

// GetSessionTasks handles GET /v1/sessions/:id/tasks.
func GetSessionTasks(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := manager.Session(c.Param("id"))
		if err != nil {
			recordError(observability.EndpointSessionTasks, observability.ErrorCodeNotFound)
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		recordRequest(observability.EndpointSessionTasks, true)
		c.JSON(http.StatusOK, gin.H{"tasks": taskViews(s)})
	}
}

// ApplySession handles POST /v1/sessions/:id/apply.
//
// Commits every validated patch in the session with one atomic write and
// reports how many landed and how many went stale.
func ApplySession(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "ApplySession")
		defer span.End()

		sessionID := c.Param("id")
		report, err := manager.ApplyAll(ctx, sessionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, code := decisionErrorStatus(err)
			slog.Error("Apply all failed", "sessionId", sessionID, "error", err)
			recordError(observability.EndpointApplySession, code)
			recordRequest(observability.EndpointApplySession, false)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Applied validated patches",
			"sessionId", sessionID, "applied", report.Applied, "stale", report.Stale)
		recordDecision(observability.DecisionApplyAll)
		recordRequest(observability.EndpointApplySession, true)
		c.JSON(http.StatusOK, datatypes.ApplySessionResponse{
			SessionID: sessionID,
			Report:    report,
		})
	}
}

// DeleteSession handles DELETE /v1/sessions/:id.
//
// Drops the session from the store and removes its staged workspace dir.
// Patches already applied to disk stay applied.
func DeleteSession(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		if err := manager.Remove(sessionID); err != nil {
			recordError(observability.EndpointDeleteSession, observability.ErrorCodeNotFound)
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		slog.Info("Session removed", "sessionId", sessionID)
		recordRequest(observability.EndpointDeleteSession, true)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionID})
	}
}

// =============================================================================
// Shared Helpers
// =============================================================================

// taskViews snapshots every task in a session for JSON responses.
func taskViews(s *pipeline.Session) []task.View {
	tasks := s.Tasks()
	views := make([]task.View, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, t.View())
	}
	return views
}

// decisionErrorStatus maps pipeline sentinel errors to HTTP status codes
// and metric error codes.
func decisionErrorStatus(err error) (int, observability.ErrorCode) {
	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound),
		errors.Is(err, pipeline.ErrTaskNotFound):
		return http.StatusNotFound, observability.ErrorCodeNotFound
	case errors.Is(err, pipeline.ErrNotValidated),
		errors.Is(err, pipeline.ErrSessionClosed),
		errors.Is(err, pipeline.ErrStaleContext):
		return http.StatusConflict, observability.ErrorCodeConflict
	default:
		return http.StatusInternalServerError, observability.ErrorCodeInternal
	}
}

// recordRequest counts a request when metrics are initialized.
func recordRequest(endpoint observability.Endpoint, success bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, success)
	}
}

// recordError counts an error when metrics are initialized.
func recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}

// recordDecision counts a review decision when metrics are initialized.
func recordDecision(d observability.Decision) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordDecision(d)
	}
}
