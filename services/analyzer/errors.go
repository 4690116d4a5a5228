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
	"errors"
	"fmt"
)

// Sentinel errors for the analyzer package.
var (
	// ErrAnalyzerUnavailable indicates the analyzer binary is missing or
	// exited with a code that signals a broken run rather than findings.
	ErrAnalyzerUnavailable = errors.New("analyzer unavailable")

	// ErrAnalyzerTimeout indicates the analyzer exceeded its configured timeout.
	ErrAnalyzerTimeout = errors.New("analyzer timeout")

	// ErrUnsupportedLanguage indicates the file extension maps to no known language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseOutput indicates the analyzer's XML stream could not be parsed.
	ErrParseOutput = errors.New("failed to parse analyzer output")

	// ErrUnsupportedVersion indicates the installed analyzer predates the
	// minimum version the MISRA addon needs.
	ErrUnsupportedVersion = errors.New("unsupported analyzer version")

	// ErrInvalidInput indicates invalid input to an analyzer function.
	ErrInvalidInput = errors.New("invalid input")
)

// AnalyzerError wraps errors from an analyzer run with context.
//
// Thread Safety: Immutable after creation.
type AnalyzerError struct {
	// Tool is the analyzer binary that failed (e.g., "cppcheck").
	Tool string

	// Language is the language being analyzed (e.g., "c", "cpp").
	Language Language

	// Err is the underlying error.
	Err error

	// Output contains any stderr output from the analyzer.
	Output string
}

// Error implements the error interface.
func (e *AnalyzerError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s (%s): %v: %s", e.Tool, e.Language, e.Err, e.Output)
	}
	return fmt.Sprintf("%s (%s): %v", e.Tool, e.Language, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AnalyzerError) Unwrap() error {
	return e.Err
}

// NewAnalyzerError creates a new AnalyzerError.
func NewAnalyzerError(tool string, language Language, err error) *AnalyzerError {
	return &AnalyzerError{
		Tool:     tool,
		Language: language,
		Err:      err,
	}
}

// WithOutput returns a copy of the error with stderr output attached.
// The raw output is what operators need when cppcheck dies mid-run.
func (e *AnalyzerError) WithOutput(output string) *AnalyzerError {
	return &AnalyzerError{
		Tool:     e.Tool,
		Language: e.Language,
		Err:      e.Err,
		Output:   output,
	}
}
