// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the gateway API.
//
// Session and task payloads reuse the pipeline's own JSON shapes
// (pipeline.Summary, task.View); this package adds the inbound DTOs and
// the composite responses the handlers return.
package datatypes

import (
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Upload Limits
// =============================================================================

const (
	// MaxFilenameLength is the maximum accepted filename length in bytes.
	MaxFilenameLength = 255

	// DefaultMaxUploadBytes is the upload size cap applied when the
	// gateway config does not set one. Single translation units beyond
	// this are better served by the CLI on a local checkout.
	DefaultMaxUploadBytes = 512 * 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// sessionValidate is the validator instance for gateway datatypes.
var sessionValidate *validator.Validate

func init() {
	sessionValidate = validator.New()
}

// Validate runs struct-tag validation over a request DTO.
func Validate(v any) error {
	return sessionValidate.Struct(v)
}

// =============================================================================
// Requests
// =============================================================================

// CreateSessionRequest is the body of POST /v1/sessions.
//
// Content is the raw source text, not base64. The filename is sanitized
// to its base name server-side; it only labels the session and names the
// staged file inside the session workspace.
type CreateSessionRequest struct {
	// Filename is the display name of the uploaded file. Must carry a
	// C/C++ source or header extension.
	Filename string `json:"filename" binding:"required" validate:"required,max=255"`

	// Content is the full source text to analyze.
	Content string `json:"content" binding:"required" validate:"required"`
}

// =============================================================================
// Responses
// =============================================================================

// SessionDetailResponse is the body of GET /v1/sessions/:id.
type SessionDetailResponse struct {
	Session pipeline.Summary `json:"session"`
	Tasks   []task.View      `json:"tasks"`
}

// TaskPatchResponse is the body of GET /v1/tasks/:id/patch.
//
// Diff is the patch rendered back to canonical unified-diff text, with
// the model's surrounding chatter stripped; empty when the task has not
// produced a patch yet.
type TaskPatchResponse struct {
	TaskID     string                  `json:"taskId"`
	Status     task.Status             `json:"status"`
	Diff       string                  `json:"diff"`
	Validation *patch.ValidationResult `json:"validation,omitempty"`
}

// ApplySessionResponse is the body of POST /v1/sessions/:id/apply.
type ApplySessionResponse struct {
	SessionID string               `json:"sessionId"`
	Report    pipeline.ApplyReport `json:"report"`
}
