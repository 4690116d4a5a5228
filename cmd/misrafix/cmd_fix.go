// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/MisraFix/cmd/misrafix/config"
	"github.com/AleutianAI/MisraFix/pkg/ux"
	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/fixer/prompt"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
	"github.com/AleutianAI/MisraFix/services/llm"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// fixTimeout bounds one whole fix run including every generation retry.
const fixTimeout = 30 * time.Minute

func runFix(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), fixTimeout)
	defer cancel()

	files, err := collectSourceFiles(args)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to collect files: %v", err))
		os.Exit(1)
	}
	if len(files) == 0 {
		ux.Error(fmt.Sprintf("No C/C++ sources found under %v", args))
		os.Exit(1)
	}

	fixer, err := newFixPipeline()
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to build the fix pipeline: %v", err))
		os.Exit(1)
	}
	defer fixer.Close()

	if err := fixer.runner.EnsureSupported(ctx); err != nil {
		ux.Error(fmt.Sprintf("cppcheck is not usable: %v", err))
		os.Exit(1)
	}

	var applied, failed, total int
	for _, file := range files {
		a, f, n, err := fixOneFile(ctx, fixer, file)
		if err != nil {
			if errors.Is(err, errFixAborted) {
				ux.Warning("Aborted. No further files were touched.")
				break
			}
			ux.Error(fmt.Sprintf("%s: %v", file, err))
			failed++
			continue
		}
		applied += a
		failed += f
		total += n
	}

	if total > 0 {
		ux.Summary(applied, failed, total)
	}
}

// errFixAborted signals the user backed out of the interactive review.
var errFixAborted = errors.New("review aborted")

// fixOneFile drives the whole pipeline for a single source file and
// returns (applied, failed, totalTasks).
func fixOneFile(ctx context.Context, fixer *fixPipeline, file string) (int, int, int, error) {
	ux.Title(file)

	s, err := fixer.manager.Open(ctx, filepath.Base(file), file)
	if err != nil {
		return 0, 0, 0, err
	}
	defer fixer.manager.Remove(s.ID)

	tasks := s.Tasks()
	if len(tasks) == 0 {
		ux.Success("No MISRA violations found")
		return 0, 0, 0, nil
	}

	noun := "violations"
	if len(tasks) == 1 {
		noun = "violation"
	}
	progress := ux.NewProgressSpinner(
		fmt.Sprintf("Generating patches for %d %s", len(tasks), noun), len(tasks))
	fixer.setProgress(progress)
	progress.Start()
	runErr := fixer.manager.Run(ctx, s)
	fixer.setProgress(nil)
	progress.Stop()
	if runErr != nil {
		return 0, 0, len(tasks), runErr
	}

	var validated []*task.Task
	var failedCount int
	for _, t := range tasks {
		switch t.Status() {
		case task.StatusValidated:
			validated = append(validated, t)
		default:
			failedCount++
			reason := t.Failure()
			if reason == "" {
				reason = string(t.Status())
			}
			ux.FileStatus(t.Violation.Summary(), ux.IconError, reason)
		}
	}

	if len(validated) == 0 {
		ux.Warning("No patch survived validation for this file")
		return 0, failedCount, len(tasks), nil
	}

	if fixDryRun {
		for _, t := range validated {
			printPatch(t)
		}
		ux.Info(fmt.Sprintf("%d validated patch(es) not applied (dry run)", len(validated)))
		return 0, failedCount, len(tasks), nil
	}

	kept := len(validated)
	if !fixYes {
		kept = 0
		for _, t := range validated {
			printPatch(t)
			apply, err := confirmPatch(t)
			if err != nil {
				return 0, failedCount, len(tasks), errFixAborted
			}
			if apply {
				kept++
				continue
			}
			if _, err := fixer.manager.Reject(ctx, t.ID); err != nil {
				return 0, failedCount, len(tasks), err
			}
			ux.Muted(fmt.Sprintf("Skipped %s", t.Violation.RuleID))
		}
		if kept == 0 {
			ux.Info("No patches selected; the file is unchanged")
			return 0, failedCount, len(tasks), nil
		}
	}

	report, err := fixer.manager.ApplyAll(ctx, s.ID)
	if err != nil {
		return 0, failedCount, len(tasks), fmt.Errorf("apply failed: %w", err)
	}
	ux.Success(fmt.Sprintf("Applied %d patch(es) to %s", report.Applied, file))
	if report.Stale > 0 {
		ux.Warning(fmt.Sprintf("%d patch(es) went stale during the batch and were not applied", report.Stale))
	}
	return report.Applied, failedCount + report.Stale, len(tasks), nil
}

// printPatch shows one violation and its proposed diff.
func printPatch(t *task.Task) {
	fmt.Println()
	ux.Info(t.Violation.Summary())
	if p := t.Patch(); p != nil {
		ux.Diff(p.Unified())
	}
}

// confirmPatch asks the user whether to apply one validated patch.
func confirmPatch(t *task.Task) (bool, error) {
	var apply bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Apply the fix for %s?", t.Violation.RuleID)).
			Description(t.Violation.Summary()).
			Affirmative("Apply").
			Negative("Skip").
			Value(&apply),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return apply, nil
}

// =============================================================================
// PIPELINE CONSTRUCTION
// =============================================================================

// fixPipeline bundles the headless remediation stack for the CLI.
type fixPipeline struct {
	runner   *analyzer.Runner
	manager  *pipeline.Manager
	llmClose func()

	// progress is swapped in per file; the coordinator's transition hook
	// ticks it as tasks settle.
	mu       sync.Mutex
	progress *ux.ProgressSpinner
}

// newFixPipeline assembles analyzer, inference lane, coordinator, and
// manager from the loaded config.
func newFixPipeline() (*fixPipeline, error) {
	cfg := config.Global

	runner := newAnalyzerRunner(cfg.Analyzer)

	client, closer, err := newLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}
	cached, err := llm.NewCachedClient(client, prompt.TemplateVersion, 0)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, err
	}

	var laneOpts []llm.LaneOption
	if cfg.LLM.TimeoutSeconds > 0 {
		laneOpts = append(laneOpts,
			llm.WithRequestTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second))
	}
	lane := llm.NewLane(cached, laneOpts...)

	var windowOpts []window.Option
	if cfg.Pipeline.ContextRadius > 0 {
		windowOpts = append(windowOpts, window.WithRadius(cfg.Pipeline.ContextRadius))
	}
	if cfg.Pipeline.TokenBudget > 0 {
		windowOpts = append(windowOpts, window.WithTokenBudget(cfg.Pipeline.TokenBudget))
	}

	fp := &fixPipeline{
		runner:   runner,
		llmClose: closer,
	}

	coordOpts := []pipeline.CoordinatorOption{
		pipeline.WithGenerationParams(generationParams(cfg.LLM)),
		pipeline.WithTransitionHook(fp.onTransition),
	}
	if cfg.Pipeline.MaxRetries > 0 {
		coordOpts = append(coordOpts, pipeline.WithMaxRetries(cfg.Pipeline.MaxRetries))
	}
	if cfg.Pipeline.WidenStep > 0 {
		coordOpts = append(coordOpts, pipeline.WithWidenStep(cfg.Pipeline.WidenStep))
	}

	coordinator := pipeline.NewCoordinator(
		window.NewBuilder(windowOpts...),
		prompt.NewComposer(),
		lane,
		patch.NewValidator(runner),
		coordOpts...,
	)
	fp.manager = pipeline.NewManager(runner, coordinator, pipeline.NewAggregator())
	return fp, nil
}

// Close tears down sessions and releases the backend client.
func (f *fixPipeline) Close() {
	f.manager.Shutdown()
	if f.llmClose != nil {
		f.llmClose()
	}
}

func (f *fixPipeline) setProgress(p *ux.ProgressSpinner) {
	f.mu.Lock()
	f.progress = p
	f.mu.Unlock()
}

// onTransition ticks the active progress spinner when a task settles.
func (f *fixPipeline) onTransition(t *task.Task) {
	f.mu.Lock()
	p := f.progress
	f.mu.Unlock()
	if p == nil {
		return
	}
	switch t.Status() {
	case task.StatusValidated, task.StatusFailed:
		p.Increment()
	}
}
