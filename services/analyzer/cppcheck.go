// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("misrafix.analyzer")

// =============================================================================
// Runner
// =============================================================================

const (
	// DefaultBinary is the analyzer executable looked up in PATH.
	DefaultBinary = "cppcheck"

	// DefaultTimeout bounds one analyzer invocation.
	DefaultTimeout = 60 * time.Second

	// MinVersion is the oldest cppcheck whose MISRA addon output this
	// package understands.
	MinVersion = "1.90"

	// maxConcurrentRuns bounds the fan-out of AnalyzeFiles. Each run is a
	// separate process, so this is a CPU/IO cap, not a safety requirement.
	maxConcurrentRuns = 4
)

// Analyzer is the extraction contract the pipeline depends on.
//
// Implementations must be side-effect free with respect to source files:
// analysis may spawn processes and create temp copies but never mutates
// the analyzed file.
type Analyzer interface {
	// Analyze runs the MISRA profile against a file on disk.
	Analyze(ctx context.Context, filePath string) ([]Violation, error)

	// AnalyzeContent runs the MISRA profile against in-memory content.
	// filename supplies the language (by extension) and the FilePath
	// recorded on returned violations.
	AnalyzeContent(ctx context.Context, content []byte, filename string) ([]Violation, error)
}

// Runner invokes cppcheck with the MISRA ruleset.
//
// Thread Safety: Safe for concurrent use; each call spawns its own process.
type Runner struct {
	binary     string
	timeout    time.Duration
	workingDir string
	extraArgs  []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithBinary overrides the analyzer executable (path or PATH name).
func WithBinary(binary string) Option {
	return func(r *Runner) {
		if binary != "" {
			r.binary = binary
		}
	}
}

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithWorkingDir sets the working directory for analyzer processes.
func WithWorkingDir(dir string) Option {
	return func(r *Runner) {
		r.workingDir = dir
	}
}

// WithExtraArgs appends additional cppcheck arguments (suppressions,
// include dirs) after the built-in profile arguments.
func WithExtraArgs(args ...string) Option {
	return func(r *Runner) {
		r.extraArgs = append(r.extraArgs, args...)
	}
}

// NewRunner creates a Runner with defaults and applies options.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		binary:  DefaultBinary,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Analyzer = (*Runner)(nil)

// IsAvailable reports whether the analyzer binary can be found.
func (r *Runner) IsAvailable() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

// versionPattern extracts the version from "Cppcheck 2.13.0" style output.
var versionPattern = regexp.MustCompile(`(?i)cppcheck\s+([0-9]+(?:\.[0-9]+){0,2})`)

// Version returns the installed analyzer version ("2.13.0").
func (r *Runner) Version(ctx context.Context) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(cmdCtx, r.binary, "--version").Output()
	if err != nil {
		return "", NewAnalyzerError(r.binary, "", ErrAnalyzerUnavailable).WithOutput(err.Error())
	}
	m := versionPattern.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("%w: unrecognized version output %q", ErrAnalyzerUnavailable, strings.TrimSpace(string(out)))
	}
	return string(m[1]), nil
}

// EnsureSupported verifies the installed analyzer is new enough for the
// MISRA addon. Callers typically log the error and continue degraded
// rather than aborting startup.
func (r *Runner) EnsureSupported(ctx context.Context) error {
	version, err := r.Version(ctx)
	if err != nil {
		return err
	}
	if semver.Compare(canonicalVersion(version), canonicalVersion(MinVersion)) < 0 {
		return fmt.Errorf("%w: have %s, need >= %s", ErrUnsupportedVersion, version, MinVersion)
	}
	return nil
}

// canonicalVersion pads "2.13" to the "v2.13.0" form semver.Compare needs.
func canonicalVersion(v string) string {
	v = "v" + strings.TrimPrefix(v, "v")
	for strings.Count(v, ".") < 2 {
		v += ".0"
	}
	return v
}

// buildArgs assembles the cppcheck command line for one file. The profile
// arguments per language are fixed: C analyzes as C99 with the misra
// addon, C++ as C++17 with the misra-cpp-2012 profile.
func (r *Runner) buildArgs(language Language, filePath string) []string {
	args := []string{"--enable=all", "--xml"}
	switch language {
	case LanguageC:
		args = append(args, "--std=c99", "--language=c", "--addon=misra")
	case LanguageCPP:
		args = append(args, "--std=c++17", "--language=c++", "--profile=misra-cpp-2012")
	}
	args = append(args, r.extraArgs...)
	args = append(args, filePath)
	return args
}

// Analyze runs the analyzer against a file on disk.
//
// Exit codes 0 and 1 both count as a completed run (cppcheck reserves 1
// for runs where findings escalate to the exit status); everything else
// maps to ErrAnalyzerUnavailable with stderr attached. A context deadline
// maps to ErrAnalyzerTimeout.
func (r *Runner) Analyze(ctx context.Context, filePath string) ([]Violation, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if filePath == "" {
		return nil, fmt.Errorf("%w: filePath must not be empty", ErrInvalidInput)
	}

	language := LanguageFromPath(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(filePath))
	}

	return r.run(ctx, language, filePath, filePath)
}

// AnalyzeContent writes content to a temp file with the right extension,
// analyzes it, and reports violations against the logical filename.
func (r *Runner) AnalyzeContent(ctx context.Context, content []byte, filename string) ([]Violation, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	language := LanguageFromPath(filename)
	if language == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(filename))
	}

	tmpFile, err := os.CreateTemp("", "misrafix-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	tmpFile.Close()

	return r.run(ctx, language, tmpPath, filename)
}

// AnalyzeFiles fans extraction out across files with bounded concurrency.
// Results are keyed by path; one failing file fails the whole call, so
// callers that need per-file isolation run Analyze themselves.
func (r *Runner) AnalyzeFiles(ctx context.Context, paths []string) (map[string][]Violation, error) {
	results := make(map[string][]Violation, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRuns)
	for _, path := range paths {
		g.Go(func() error {
			violations, err := r.Analyze(gctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			mu.Lock()
			results[path] = violations
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// run executes one analyzer process and parses its stderr report.
func (r *Runner) run(ctx context.Context, language Language, filePath, logicalPath string) ([]Violation, error) {
	ctx, span := tracer.Start(ctx, "analyzer.run", trace.WithAttributes(
		attribute.String("file", logicalPath),
		attribute.String("language", string(language)),
	))
	defer span.End()

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.binary, r.buildArgs(language, filePath)...)
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	} else {
		cmd.Dir = filepath.Dir(filePath)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, NewAnalyzerError(r.binary, language, ErrAnalyzerTimeout).
			WithOutput(truncateOutput(stderr.String()))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		// Exit code 1 means findings when --error-exitcode is in play.
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			return nil, NewAnalyzerError(r.binary, language, ErrAnalyzerUnavailable).
				WithOutput(truncateOutput(stderr.String()))
		}
	}

	violations, err := ParseReport(stderr.Bytes(), logicalPath)
	if err != nil {
		return nil, NewAnalyzerError(r.binary, language, err).
			WithOutput(truncateOutput(stderr.String()))
	}

	span.SetAttributes(attribute.Int("violations", len(violations)))
	return violations, nil
}

// truncateOutput caps captured stderr so a runaway report cannot flood
// logs or API error payloads.
func truncateOutput(s string) string {
	const limit = 4096
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... (truncated)"
}
