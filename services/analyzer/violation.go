// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer runs the external static analyzer (cppcheck) with the
// MISRA profile and turns its XML diagnostic stream into Violation records.
//
// The analyzer process is modeled as a stateless service: each call spawns
// one bounded subprocess, and nothing here ever mutates a source file.
// Process-lifecycle details (spawn, timeout, exit-code interpretation) stay
// behind the Runner so the rest of the pipeline never sees them.
package analyzer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Language identifies the analyzed source language.
type Language string

const (
	// LanguageC selects the MISRA C:2012 profile.
	LanguageC Language = "c"

	// LanguageCPP selects the MISRA C++ profile.
	LanguageCPP Language = "cpp"
)

// LanguageFromPath maps a file extension to its Language.
// Returns "" for extensions the analyzer does not handle.
func LanguageFromPath(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c", ".h":
		return LanguageC
	case ".cc", ".cpp", ".cxx", ".hpp", ".hh":
		return LanguageCPP
	default:
		return ""
	}
}

// Severity levels reported by cppcheck.
const (
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityStyle       = "style"
	SeverityPerformance = "performance"
	SeverityPortability = "portability"
	SeverityInformation = "information"
)

// Violation is one diagnostic extracted from an analyzer run.
//
// A Violation is immutable once extracted. Its identity for deduplication
// and for re-verification after a patch is (FilePath, Line, RuleID); two
// diagnostics at the same coordinate for the same rule collapse to one
// record.
type Violation struct {
	// ID is a unique identifier for this extraction of the violation.
	ID string `json:"id"`

	// FilePath is the analyzed file, as the caller named it.
	FilePath string `json:"file_path"`

	// Line is the 1-based line of the diagnostic.
	Line int `json:"line"`

	// Column is the 1-based column, 0 when the analyzer omits it.
	Column int `json:"column"`

	// RuleID is the analyzer's rule identifier (e.g., "misra-c2012-8.4").
	RuleID string `json:"rule_id"`

	// Severity is the analyzer's severity string (see Severity constants).
	Severity string `json:"severity"`

	// Message is the short diagnostic text.
	Message string `json:"message"`

	// Detail is the verbose diagnostic text when the analyzer provides one.
	Detail string `json:"detail,omitempty"`
}

// Key returns the identity of the violation: same key, same violation.
func (v Violation) Key() string {
	return fmt.Sprintf("%s:%d:%s", v.FilePath, v.Line, v.RuleID)
}

// Summary renders the one-line form used in prompts and CLI tables:
// "file:line:col severity: message (rule)".
func (v Violation) Summary() string {
	return fmt.Sprintf("%s:%d:%d %s: %s (%s)", v.FilePath, v.Line, v.Column, v.Severity, v.Message, v.RuleID)
}

// IsMisra reports whether the rule id belongs to a MISRA ruleset rather
// than one of cppcheck's general checks.
func (v Violation) IsMisra() bool {
	return strings.HasPrefix(strings.ToLower(v.RuleID), "misra")
}

// dedupe collapses diagnostics that share an identity key, keeping the
// first-seen record. Input order is preserved.
func dedupe(violations []Violation) []Violation {
	seen := make(map[string]bool, len(violations))
	out := violations[:0]
	for _, v := range violations {
		key := v.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
