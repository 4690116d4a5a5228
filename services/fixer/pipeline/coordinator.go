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
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/MisraFix/pkg/logging"
	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/prompt"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
	"github.com/AleutianAI/MisraFix/services/llm"
)

const (
	// DefaultMaxRetries is how many times a task may re-enter Prompted
	// after its first attempt fails.
	DefaultMaxRetries = 2

	// DefaultWidenStep is how many lines each retry adds to both sides of
	// the context window.
	DefaultWidenStep = 10
)

// Coordinator drives one task through the remediation state machine.
//
// Description:
//
//	For each task the coordinator builds a context window, composes a
//	prompt, requests a completion through the serialized inference lane,
//	parses and validates the returned patch, and either parks the task in
//	Validated for review or retries with a widened window. Window, prompt,
//	and patch are rebuilt from scratch on every attempt.
//
// Thread Safety: Safe for concurrent use across tasks; the inference lane
// serializes the model-bound stage internally.
type Coordinator struct {
	windows      *window.Builder
	composer     *prompt.Composer
	lane         *llm.Lane
	validator    *patch.Validator
	sm           *task.StateMachine
	params       *llm.GenerationParams
	maxRetries   int
	widenStep    int
	logger       *logging.Logger
	onTransition func(*task.Task)
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxRetries overrides the retry bound. Negative values are ignored.
func WithMaxRetries(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithWidenStep overrides the per-retry window widening in lines.
func WithWidenStep(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n >= 0 {
			c.widenStep = n
		}
	}
}

// WithGenerationParams overrides the sampling knobs sent with each prompt.
func WithGenerationParams(p *llm.GenerationParams) CoordinatorOption {
	return func(c *Coordinator) {
		if p != nil {
			c.params = p
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l *logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransitionHook registers a callback invoked after every status
// change. Used by sessions to feed the event stream; must not block.
func WithTransitionHook(fn func(*task.Task)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onTransition = fn
	}
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(windows *window.Builder, composer *prompt.Composer, lane *llm.Lane, validator *patch.Validator, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		windows:    windows,
		composer:   composer,
		lane:       lane,
		validator:  validator,
		sm:         task.DefaultStateMachine,
		params:     &llm.GenerationParams{Stop: prompt.StopSequences},
		maxRetries: DefaultMaxRetries,
		widenStep:  DefaultWidenStep,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Remediate runs the task until it holds a passing validated patch or
// reaches a terminal state.
//
// Description:
//
//	source is the session's immutable snapshot of the target file; before
//	is the full extraction result for that snapshot, used to tell new
//	violations from pre-existing ones that merely shifted. Remediate
//	returns an error only when ctx is cancelled; every task-level outcome,
//	including retry exhaustion, is recorded on the task and returns nil so
//	one task's failure never aborts its siblings.
//
// Inputs:
//
//	ctx - Context for cancellation; cancellation fails the task.
//	t - The task to drive. Must be in Pending.
//	source - Snapshot of the target file the task was extracted from.
//	before - All violations extracted from source.
//
// Outputs:
//
//	error - Non-nil only on context cancellation or metrics bootstrap failure.
func (c *Coordinator) Remediate(ctx context.Context, t *task.Task, source []byte, before []analyzer.Violation) error {
	if err := initMetrics(); err != nil {
		return fmt.Errorf("Failed to initialize pipeline metrics: %w", err)
	}

	ctx, span := tracer.Start(ctx, "pipeline.remediate")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("violation.rule", t.Violation.RuleID),
	)

	start := time.Now()
	defer func() {
		taskDuration.Record(context.Background(), time.Since(start).Seconds())
		taskAttempts.Record(context.Background(), int64(t.AttemptCount()))
	}()

	maxAttempts := 1 + c.maxRetries
	var lastFailure string

	for {
		attempt := t.BeginAttempt()

		if err := ctx.Err(); err != nil {
			c.failTask(t, "cancelled: "+err.Error(), "cancelled")
			return err
		}

		outcome, err := c.runAttempt(ctx, t, source, before, attempt, &lastFailure)
		if err != nil {
			return err
		}
		switch outcome {
		case attemptValidated, attemptAbandoned:
			return nil
		case attemptRetry:
			if attempt >= maxAttempts {
				reason := fmt.Sprintf("%v after %d attempts: %s", ErrRetriesExhausted, attempt, lastFailure)
				c.failTask(t, reason, "retries_exhausted")
				return nil
			}
			// Validation failures sit in Validated and re-enter Prompted;
			// inference failures never left Prompted.
			if t.Status() == task.StatusValidated {
				if !c.advance(t, task.StatusPrompted) {
					return nil
				}
			}
			t.ResetForRetry()
			c.logger.Info("retrying task",
				"task_id", t.ID,
				"rule", t.Violation.RuleID,
				"attempt", attempt,
				"failure", lastFailure,
			)
		}
	}
}

type attemptOutcome int

const (
	attemptValidated attemptOutcome = iota
	attemptRetry
	attemptAbandoned
)

// runAttempt executes one window->prompt->generate->validate cycle.
func (c *Coordinator) runAttempt(ctx context.Context, t *task.Task, source []byte, before []analyzer.Violation, attempt int, lastFailure *string) (attemptOutcome, error) {
	v := t.Violation

	w, err := c.windows.Rebuild(ctx, source, v.FilePath, v.Line, (attempt-1)*c.widenStep)
	if err != nil {
		// Window construction is deterministic over the snapshot, so a
		// failure here will not improve with retries.
		c.failTask(t, "context window: "+err.Error(), "window_error")
		return attemptAbandoned, nil
	}
	t.SetWindow(w)
	if attempt == 1 {
		if !c.advance(t, task.StatusContextBuilt) {
			return attemptAbandoned, nil
		}
	}

	p, err := c.composer.Compose(v, w)
	if err != nil {
		c.failTask(t, "prompt: "+err.Error(), "prompt_error")
		return attemptAbandoned, nil
	}
	t.SetPrompt(p)
	if attempt == 1 {
		if !c.advance(t, task.StatusPrompted) {
			return attemptAbandoned, nil
		}
	}

	raw, err := c.lane.Generate(ctx, p, c.params)
	if err != nil {
		if ctx.Err() != nil {
			c.failTask(t, "cancelled: "+ctx.Err().Error(), "cancelled")
			return attemptAbandoned, ctx.Err()
		}
		*lastFailure = err.Error()
		return attemptRetry, nil
	}
	if !c.advance(t, task.StatusGenerated) {
		return attemptAbandoned, nil
	}

	result, verr := c.gradePatch(ctx, t, source, raw, before)
	if verr != nil {
		if ctx.Err() != nil {
			c.failTask(t, "cancelled: "+ctx.Err().Error(), "cancelled")
			return attemptAbandoned, ctx.Err()
		}
		result = &patch.ValidationResult{FailureDescription: "analysis failed: " + verr.Error()}
	}
	t.SetValidation(result)
	if !c.advance(t, task.StatusValidated) {
		return attemptAbandoned, nil
	}

	if result.Passed() {
		taskOutcomes.Add(context.Background(), 1, outcomeAttr("validated"))
		c.logger.Info("task validated",
			"task_id", t.ID,
			"rule", v.RuleID,
			"file", v.FilePath,
			"line", v.Line,
			"attempt", attempt,
		)
		return attemptValidated, nil
	}

	*lastFailure = result.FailureDescription
	return attemptRetry, nil
}

// gradePatch parses the completion and runs the full validation stack.
// Parse failures are reported as a failing result rather than an error so
// they reach Validated and take the same retry edge as semantic failures.
func (c *Coordinator) gradePatch(ctx context.Context, t *task.Task, source []byte, raw string, before []analyzer.Violation) (*patch.ValidationResult, error) {
	pt, err := patch.Parse(raw, t.Violation.FilePath)
	if err != nil {
		return &patch.ValidationResult{FailureDescription: err.Error()}, nil
	}
	t.SetPatch(pt)
	return c.validator.Validate(ctx, source, pt, t.Violation, before)
}

// advance performs a state transition and fires the hook. A false return
// means the task was invalidated out from under the coordinator (watcher
// or sibling apply) and the attempt should be abandoned quietly.
func (c *Coordinator) advance(t *task.Task, to task.Status) bool {
	if err := c.sm.Transition(t, to); err != nil {
		if t.Status().IsTerminal() {
			return false
		}
		// An invalid edge with a live task is a coordinator bug; fail the
		// task loudly instead of wedging it.
		c.failTask(t, err.Error(), "invalid_transition")
		return false
	}
	c.notify(t)
	return true
}

// failTask moves the task to Failed with a reason. Safe to call when the
// task already terminated; the transition is simply skipped.
func (c *Coordinator) failTask(t *task.Task, reason, outcome string) {
	t.SetFailure(reason)
	if err := c.sm.Transition(t, task.StatusFailed); err != nil {
		return
	}
	taskOutcomes.Add(context.Background(), 1, outcomeAttr(outcome))
	c.logger.Warn("task failed",
		"task_id", t.ID,
		"rule", t.Violation.RuleID,
		"file", t.Violation.FilePath,
		"line", t.Violation.Line,
		"reason", reason,
	)
	c.notify(t)
}

func (c *Coordinator) notify(t *task.Task) {
	if c.onTransition != nil {
		c.onTransition(t)
	}
}
