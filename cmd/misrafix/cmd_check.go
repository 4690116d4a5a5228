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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AleutianAI/MisraFix/cmd/misrafix/config"
	"github.com/AleutianAI/MisraFix/pkg/validation"
	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// =============================================================================
// CONSTANTS AND TYPES
// =============================================================================

// Exit codes for check.
const (
	CheckExitSuccess   = 0
	CheckExitViolation = 1
	CheckExitError     = 2
)

// CheckResult holds the results of a MISRA scan.
type CheckResult struct {
	Violations   []analyzer.Violation `json:"violations"`
	FilesScanned int                  `json:"files_scanned"`
	DurationMs   int64                `json:"duration_ms"`
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runCheck(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()

	files, err := collectSourceFiles(args)
	if err != nil {
		outputCheckError("Failed to collect files", err)
		os.Exit(CheckExitError)
	}
	if len(files) == 0 {
		outputCheckError("No C/C++ sources found", fmt.Errorf("nothing to analyze under %v", args))
		os.Exit(CheckExitError)
	}

	runner := newAnalyzerRunner(config.Global.Analyzer)
	if err := runner.EnsureSupported(ctx); err != nil {
		outputCheckError("cppcheck is not usable", err)
		os.Exit(CheckExitError)
	}

	byFile, err := analyzeWithProgress(ctx, runner, files)
	if err != nil {
		outputCheckError("Analysis failed", err)
		os.Exit(CheckExitError)
	}

	result := CheckResult{
		Violations:   flattenViolations(byFile),
		FilesScanned: len(files),
		DurationMs:   time.Since(start).Milliseconds(),
	}

	if !checkQuiet {
		if checkJSON {
			outputCheckJSON(result)
		} else {
			outputCheckTable(result)
		}
	}

	if len(result.Violations) > 0 {
		os.Exit(CheckExitViolation)
	}
	os.Exit(CheckExitSuccess)
}

// analyzeWithProgress runs the analyzer, spinning only when a human is
// watching. JSON and quiet runs keep stdout clean for pipelines.
func analyzeWithProgress(ctx context.Context, runner *analyzer.Runner, files []string) (map[string][]analyzer.Violation, error) {
	if checkJSON || checkQuiet {
		return runner.AnalyzeFiles(ctx, files)
	}

	var (
		byFile map[string][]analyzer.Violation
		err    error
	)
	spin := newSpinnerForFiles(files)
	spin.Start()
	byFile, err = runner.AnalyzeFiles(ctx, files)
	spin.Stop()
	return byFile, err
}

// =============================================================================
// FILE COLLECTION
// =============================================================================

// collectSourceFiles expands the arguments into a sorted list of C/C++
// sources. Directories are walked recursively; a named file with an
// unsupported extension is an error rather than a silent skip.
func collectSourceFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot stat %s: %w", arg, err)
		}

		if !info.IsDir() {
			if err := validation.ValidateSourcePath(arg); err != nil {
				return nil, err
			}
			files = append(files, arg)
			continue
		}

		walkErr := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // Continue on error
			}
			if d.IsDir() {
				return nil
			}
			if validation.HasSourceExtension(path) {
				files = append(files, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}

	sort.Strings(files)
	return files, nil
}

// flattenViolations merges the per-file results into one list ordered by
// file, then line, then column.
func flattenViolations(byFile map[string][]analyzer.Violation) []analyzer.Violation {
	var all []analyzer.Violation
	for _, violations := range byFile {
		all = append(all, violations...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].FilePath != all[j].FilePath {
			return all[i].FilePath < all[j].FilePath
		}
		if all[i].Line != all[j].Line {
			return all[i].Line < all[j].Line
		}
		return all[i].Column < all[j].Column
	})
	return all
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

func outputCheckError(msg string, err error) {
	if checkJSON {
		result := map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("%s: %v", msg, err),
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(result)
	} else if !checkQuiet {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	}
}

func outputCheckJSON(result CheckResult) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(CheckExitError)
	}
}

func outputCheckTable(result CheckResult) {
	if len(result.Violations) == 0 {
		fmt.Printf("No MISRA violations found in %d file(s). Scan took %dms.\n",
			result.FilesScanned, result.DurationMs)
		return
	}
	fmt.Printf("\n%s", renderViolationTable(result.Violations))
	fmt.Printf("\nScanned %d file(s) in %dms\n", result.FilesScanned, result.DurationMs)
}

// renderViolationTable formats violations for terminal display.
func renderViolationTable(violations []analyzer.Violation) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"File", "Line", "Rule", "Severity", "Message"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
	})

	for _, v := range violations {
		table.Append([]string{
			v.FilePath,
			fmt.Sprintf("%d", v.Line),
			v.RuleID,
			v.Severity,
			analyzer.Describe(v.RuleID, v.Message),
		})
	}

	table.SetFooter([]string{
		"Total", "", "", "",
		fmt.Sprintf("%d violation(s)", len(violations)),
	})

	table.Render()
	return tableBuffer.String()
}
