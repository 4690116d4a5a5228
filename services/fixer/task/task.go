// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
)

// Task is the unit of remediation work for one violation. The pipeline
// coordinator owns all mutation; everything else reads through View.
//
// A task holds at most one live patch. Each generation attempt replaces
// the previous patch and its validation wholesale; the stored *patch.Patch
// is treated as immutable once set.
type Task struct {
	// ID is unique per task. Re-extracting a violation after its task
	// terminated produces a new ID.
	ID string

	// Violation is the finding this task exists to fix. Immutable.
	Violation analyzer.Violation

	// SourceSnapshotHash pins the file content the task was created
	// against. If the file changes underneath the task, the task is
	// stale and must fail rather than apply.
	SourceSnapshotHash string

	mu           sync.RWMutex
	status       Status
	attemptCount int
	window       *window.Window
	prompt       string
	patch        *patch.Patch
	validation   *patch.ValidationResult
	failure      string
	createdAt    time.Time
	updatedAt    time.Time
}

// New creates a Pending task for the violation.
func New(v analyzer.Violation, snapshotHash string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:                 uuid.NewString(),
		Violation:          v,
		SourceSnapshotHash: snapshotHash,
		status:             StatusPending,
		createdAt:          now,
		updatedAt:          now,
	}
}

// setStatusLocked records a status change. Caller holds t.mu.
func (t *Task) setStatusLocked(to Status) {
	t.status = to
	t.updatedAt = time.Now().UTC()
}

// Status returns the current lifecycle position.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// AttemptCount returns how many generation attempts have started.
func (t *Task) AttemptCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attemptCount
}

// BeginAttempt bumps the attempt counter and returns the new value.
func (t *Task) BeginAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attemptCount++
	t.updatedAt = time.Now().UTC()
	return t.attemptCount
}

// SetWindow stores the context window for the current attempt.
func (t *Task) SetWindow(w *window.Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = w
	t.updatedAt = time.Now().UTC()
}

// Window returns the current context window.
func (t *Task) Window() *window.Window {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.window
}

// SetPrompt stores the rendered prompt for the current attempt.
func (t *Task) SetPrompt(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompt = p
	t.updatedAt = time.Now().UTC()
}

// Prompt returns the rendered prompt.
func (t *Task) Prompt() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prompt
}

// SetPatch replaces the live patch. The previous patch and validation are
// discarded, keeping the at-most-one-live-patch invariant.
func (t *Task) SetPatch(p *patch.Patch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p != nil {
		p.TaskID = t.ID
	}
	t.patch = p
	t.validation = nil
	t.updatedAt = time.Now().UTC()
}

// Patch returns the live patch, nil when none exists.
func (t *Task) Patch() *patch.Patch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.patch
}

// SetValidation stores the verdict for the live patch.
func (t *Task) SetValidation(r *patch.ValidationResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.validation = r
	t.updatedAt = time.Now().UTC()
}

// Validation returns the verdict for the live patch, nil before grading.
func (t *Task) Validation() *patch.ValidationResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.validation
}

// SetFailure records why the task failed. Status is changed separately
// through the state machine.
func (t *Task) SetFailure(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failure = reason
	t.updatedAt = time.Now().UTC()
}

// Failure returns the recorded failure reason.
func (t *Task) Failure() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failure
}

// ResetForRetry discards the attempt-scoped artifacts before a retry.
// The attempt counter is preserved; the caller bumps it with
// BeginAttempt when the next attempt starts.
func (t *Task) ResetForRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = nil
	t.prompt = ""
	t.patch = nil
	t.validation = nil
	t.updatedAt = time.Now().UTC()
}

// View is an immutable JSON-friendly snapshot of a task.
type View struct {
	ID                 string                  `json:"id"`
	Violation          analyzer.Violation      `json:"violation"`
	Status             Status                  `json:"status"`
	AttemptCount       int                     `json:"attemptCount"`
	SourceSnapshotHash string                  `json:"sourceSnapshotHash"`
	Window             *window.Window          `json:"window,omitempty"`
	Patch              *patch.Patch            `json:"patch,omitempty"`
	Validation         *patch.ValidationResult `json:"validation,omitempty"`
	Failure            string                  `json:"failure,omitempty"`
	CreatedAt          time.Time               `json:"createdAt"`
	UpdatedAt          time.Time               `json:"updatedAt"`
}

// View snapshots the task for handlers and the event feed.
func (t *Task) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return View{
		ID:                 t.ID,
		Violation:          t.Violation,
		Status:             t.status,
		AttemptCount:       t.attemptCount,
		SourceSnapshotHash: t.SourceSnapshotHash,
		Window:             t.window,
		Patch:              t.patch,
		Validation:         t.validation,
		Failure:            t.failure,
		CreatedAt:          t.createdAt,
		UpdatedAt:          t.updatedAt,
	}
}
