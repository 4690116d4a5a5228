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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/MisraFix/pkg/logging"
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
)

// Aggregator turns review decisions into task transitions and, for
// accepts, atomic on-disk writes.
//
// Description:
//
//	Accept commits exactly one validated patch and invalidates every
//	other live task in the session, because their windows and hunks were
//	computed against content that no longer exists on disk. ApplyAll
//	commits every validated patch in one write, ascending by violation
//	line, so earlier hunks cannot shift the line numbers later hunks
//	were validated against.
//
// Thread Safety: Safe for concurrent use; per-session serialization is
// done with the session's apply lock.
type Aggregator struct {
	sm     *task.StateMachine
	logger *logging.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the aggregator logger.
func WithAggregatorLogger(l *logging.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		sm:     task.DefaultStateMachine,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Accept commits one task's validated patch to disk.
//
// Description:
//
//	The task must be in Validated with a passing result. The live file is
//	re-hashed first; any divergence from the task's snapshot fails the
//	whole session as stale instead of applying. On success the task
//	becomes Applied, all other live tasks become Failed with a stale
//	reason, and the session closes.
//
// Outputs:
//
//	task.View - The task after the transition.
//	error - ErrNotValidated, ErrStaleContext, ErrTaskNotFound,
//	ErrSessionClosed, or a write error.
func (a *Aggregator) Accept(ctx context.Context, s *Session, taskID string) (task.View, error) {
	if err := initMetrics(); err != nil {
		return task.View{}, fmt.Errorf("Failed to initialize pipeline metrics: %w", err)
	}

	_, span := tracer.Start(ctx, "pipeline.accept")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.Closed() {
		return task.View{}, ErrSessionClosed
	}
	t, ok := s.Task(taskID)
	if !ok {
		return task.View{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err := a.ensureApplicable(t); err != nil {
		return t.View(), err
	}

	if err := a.ensureFresh(s, t); err != nil {
		return t.View(), err
	}

	patched := t.Validation().PatchedContent
	if err := a.commit(s, patched); err != nil {
		return t.View(), err
	}

	if err := a.sm.Transition(t, task.StatusApplied); err != nil {
		// The write landed but the task raced an invalidation; report the
		// transition error so the caller sees the conflict.
		return t.View(), err
	}
	patchesApplied.Add(context.Background(), 1)
	s.Publish(t)

	reason := fmt.Sprintf("%v: a sibling patch was applied to %s", ErrStaleContext, s.FileName)
	s.InvalidateNonTerminal(a.sm, reason, t.ID)
	s.setStatus(SessionClosed)

	a.logger.Info("patch applied",
		"task_id", t.ID,
		"session_id", s.ID,
		"file", s.TargetPath,
		"rule", t.Violation.RuleID,
		"line", t.Violation.Line,
	)
	return t.View(), nil
}

// Reject declines a task's patch without touching disk.
func (a *Aggregator) Reject(ctx context.Context, s *Session, taskID string) (task.View, error) {
	_, span := tracer.Start(ctx, "pipeline.reject")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	if s.Closed() {
		return task.View{}, ErrSessionClosed
	}
	t, ok := s.Task(taskID)
	if !ok {
		return task.View{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err := a.sm.Transition(t, task.StatusRejected); err != nil {
		return t.View(), err
	}
	s.Publish(t)

	a.logger.Info("patch rejected",
		"task_id", t.ID,
		"session_id", s.ID,
		"rule", t.Violation.RuleID,
	)
	return t.View(), nil
}

// ApplyReport summarizes a batch commit.
type ApplyReport struct {
	Applied int `json:"applied"`
	Stale   int `json:"stale"`
}

// ApplyAll commits every validated patch in one atomic write.
//
// Description:
//
//	Validated patches commit in ascending violation line order against
//	the original snapshot, with hunk positions shifted by the cumulative
//	line delta of earlier patches. A patch whose hunks overlap an
//	already-committed range, or whose context no longer matches the
//	evolving content, is not silently re-based: its task fails as stale.
//	Tasks still in flight when the write lands are invalidated.
func (a *Aggregator) ApplyAll(ctx context.Context, s *Session) (ApplyReport, error) {
	if err := initMetrics(); err != nil {
		return ApplyReport{}, fmt.Errorf("Failed to initialize pipeline metrics: %w", err)
	}

	_, span := tracer.Start(ctx, "pipeline.apply_all")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.Closed() {
		return ApplyReport{}, ErrSessionClosed
	}

	var candidates []*task.Task
	for _, t := range s.Tasks() {
		if t.Status() == task.StatusValidated && t.Validation() != nil && t.Validation().Passed() {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return ApplyReport{}, ErrNotValidated
	}

	if err := a.ensureFresh(s, candidates[0]); err != nil {
		return ApplyReport{}, err
	}

	content := s.Source
	var (
		report    ApplyReport
		committed []*task.Task
		delta     int
		covered   []lineRange
	)
	for _, t := range candidates {
		p := t.Patch()
		if p == nil {
			continue
		}
		if overlapsAny(p, covered) {
			a.markStale(s, t, "an earlier patch rewrote the same lines")
			report.Stale++
			continue
		}
		next, err := patch.Apply(content, shiftPatch(p, delta))
		if err != nil {
			a.markStale(s, t, "context diverged after earlier patches: "+err.Error())
			report.Stale++
			continue
		}
		content = next
		committed = append(committed, t)
		for _, h := range p.Hunks {
			covered = append(covered, lineRange{h.OldStart, h.OldStart + h.OldLines - 1})
			delta += h.NewLines - h.OldLines
		}
	}

	if len(committed) == 0 {
		s.setStatus(SessionReview)
		return report, fmt.Errorf("%w: no patch survived the batch commit", ErrStaleContext)
	}

	if err := a.commit(s, content); err != nil {
		return report, err
	}
	for _, t := range committed {
		if err := a.sm.Transition(t, task.StatusApplied); err != nil {
			continue
		}
		report.Applied++
		patchesApplied.Add(context.Background(), 1)
		s.Publish(t)
	}

	reason := fmt.Sprintf("%v: a batch of sibling patches was applied to %s", ErrStaleContext, s.FileName)
	committedIDs := make([]string, len(committed))
	for i, t := range committed {
		committedIDs[i] = t.ID
	}
	report.Stale += s.InvalidateNonTerminal(a.sm, reason, committedIDs...)
	s.setStatus(SessionClosed)

	a.logger.Info("batch applied",
		"session_id", s.ID,
		"file", s.TargetPath,
		"applied", report.Applied,
		"stale", report.Stale,
	)
	return report, nil
}

// ensureApplicable verifies the task holds a passing validated patch.
func (a *Aggregator) ensureApplicable(t *task.Task) error {
	if t.Status() != task.StatusValidated {
		return fmt.Errorf("%w: task %s is %s", ErrNotValidated, t.ID, t.Status())
	}
	r := t.Validation()
	if r == nil || !r.Passed() || len(r.PatchedContent) == 0 {
		return fmt.Errorf("%w: task %s failed validation", ErrNotValidated, t.ID)
	}
	return nil
}

// ensureFresh re-hashes the live file and fails the whole session when it
// no longer matches the snapshot the patches were validated against.
func (a *Aggregator) ensureFresh(s *Session, t *task.Task) error {
	live, err := os.ReadFile(s.TargetPath)
	if err != nil {
		return fmt.Errorf("%w: cannot re-read %s: %v", ErrStaleContext, s.TargetPath, err)
	}
	if window.SnapshotHash(live) == t.SourceSnapshotHash {
		return nil
	}

	reason := fmt.Sprintf("%v: %s changed since extraction", ErrStaleContext, s.FileName)
	s.InvalidateNonTerminal(a.sm, reason)
	s.setStatus(SessionClosed)
	return fmt.Errorf("%w: %s was modified since extraction", ErrStaleContext, s.TargetPath)
}

// markStale fails one task with a stale reason during a batch commit.
func (a *Aggregator) markStale(s *Session, t *task.Task, detail string) {
	t.SetFailure(fmt.Sprintf("%v: %s", ErrStaleContext, detail))
	if err := a.sm.Transition(t, task.StatusFailed); err != nil {
		return
	}
	s.Publish(t)
}

// commit writes content over the session target via temp-file-then-rename
// so a crash mid-write never leaves a truncated source file. The
// expected hash is recorded first so the watcher recognizes the write as
// the pipeline's own.
func (a *Aggregator) commit(s *Session, content []byte) error {
	s.setExpectedHash(window.SnapshotHash(content))

	dir := filepath.Dir(s.TargetPath)
	base := filepath.Base(s.TargetPath)
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage patched file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write patched file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush patched file: %w", err)
	}
	if info, err := os.Stat(s.TargetPath); err == nil {
		if err := os.Chmod(tmpName, info.Mode()); err != nil {
			return fmt.Errorf("failed to preserve file mode: %w", err)
		}
	}
	if err := os.Rename(tmpName, s.TargetPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.TargetPath, err)
	}
	return nil
}

type lineRange struct {
	start, end int
}

// overlapsAny reports whether any hunk of p, in original-file
// coordinates, touches a range already committed by an earlier patch.
func overlapsAny(p *patch.Patch, covered []lineRange) bool {
	for _, h := range p.Hunks {
		hs, he := h.OldStart, h.OldStart+h.OldLines-1
		if h.OldLines == 0 {
			he = hs
		}
		for _, r := range covered {
			if hs <= r.end && r.start <= he {
				return true
			}
		}
	}
	return false
}

// shiftPatch returns a copy of p with hunk positions moved by delta
// lines. Used when committing against content already reshaped by
// earlier, lower-line patches.
func shiftPatch(p *patch.Patch, delta int) *patch.Patch {
	if delta == 0 {
		return p
	}
	shifted := &patch.Patch{
		TaskID:   p.TaskID,
		FilePath: p.FilePath,
		Raw:      p.Raw,
		Hunks:    make([]patch.Hunk, len(p.Hunks)),
	}
	copy(shifted.Hunks, p.Hunks)
	for i := range shifted.Hunks {
		shifted.Hunks[i].OldStart += delta
		shifted.Hunks[i].NewStart += delta
	}
	return shifted
}
