// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/gateway/datatypes"
	"github.com/AleutianAI/MisraFix/services/gateway/observability"
)

// GetTaskPatch handles GET /v1/tasks/:id/patch.
//
// Returns the rendered unified diff for a task together with its
// validation result. Tasks that have not produced a patch yet return an
// empty diff with the current status, so the UI can poll or wait on the
// websocket.
func GetTaskPatch(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, t, err := manager.FindTask(c.Param("id"))
		if err != nil {
			recordError(observability.EndpointTaskPatch, observability.ErrorCodeNotFound)
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}

		resp := datatypes.TaskPatchResponse{
			TaskID:     t.ID,
			Status:     t.Status(),
			Validation: t.Validation(),
		}
		if p := t.Patch(); p != nil {
			resp.Diff = p.Unified()
		}

		recordRequest(observability.EndpointTaskPatch, true)
		c.JSON(http.StatusOK, resp)
	}
}

// AcceptTask handles POST /v1/tasks/:id/accept.
//
// Commits a single validated patch to the target file. The write is
// atomic and invalidates sibling tasks whose context it changed; their
// updated views arrive on the events websocket.
func AcceptTask(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "AcceptTask")
		defer span.End()

		taskID := c.Param("id")
		span.SetAttributes(attribute.String("task.id", taskID))

		view, err := manager.Accept(ctx, taskID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, code := decisionErrorStatus(err)
			slog.Warn("Accept rejected", "taskId", taskID, "error", err)
			recordError(observability.EndpointAcceptTask, code)
			recordRequest(observability.EndpointAcceptTask, false)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Patch accepted", "taskId", taskID, "status", view.Status)
		recordDecision(observability.DecisionAccept)
		recordRequest(observability.EndpointAcceptTask, true)
		c.JSON(http.StatusOK, view)
	}
}

// RejectTask handles POST /v1/tasks/:id/reject.
//
// Marks a task rejected without touching the target file. Terminal; the
// task takes no further attempts.
func RejectTask(manager *pipeline.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "RejectTask")
		defer span.End()

		taskID := c.Param("id")
		span.SetAttributes(attribute.String("task.id", taskID))

		view, err := manager.Reject(ctx, taskID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, code := decisionErrorStatus(err)
			slog.Warn("Reject failed", "taskId", taskID, "error", err)
			recordError(observability.EndpointRejectTask, code)
			recordRequest(observability.EndpointRejectTask, false)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Patch rejected", "taskId", taskID)
		recordDecision(observability.DecisionReject)
		recordRequest(observability.EndpointRejectTask, true)
		c.JSON(http.StatusOK, view)
	}
}
