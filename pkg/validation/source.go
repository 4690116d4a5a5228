// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// file paths or subprocess calls (the static analyzer runs on uploaded
// files). Using these validators prevents command injection and path
// traversal from web uploads and CLI arguments.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// sourceExtensions is the allowlist of file extensions the analyzer
// understands. Anything else is rejected before a subprocess is spawned.
var sourceExtensions = map[string]bool{
	".c":   true,
	".h":   true,
	".cc":  true,
	".cpp": true,
	".cxx": true,
	".hpp": true,
	".hh":  true,
}

// filenamePattern matches safe upload filenames: a base name of letters,
// digits, dots, underscores and hyphens. Separators and traversal sequences
// never match.
var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,254}$`)

// ruleIDPattern matches cppcheck MISRA rule identifiers such as
// "misra-c2012-8.4", "misra-cpp2008-5-0-1", plus the bare numeric forms
// ("8.4") some report formats use.
var ruleIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9\-]{0,40}(\.[0-9]{1,3})?$|^[0-9]{1,2}\.[0-9]{1,3}$`)

// ValidateFilename validates an uploaded source filename.
//
// Valid filenames:
//   - 1-255 characters, starting with a letter or digit
//   - letters, digits, dots, underscores, hyphens
//   - an extension from the C/C++ allowlist
//
// Returns an error naming the first failed check.
//
// Example:
//
//	if err := validation.ValidateFilename(req.Filename); err != nil {
//	    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
//	    return
//	}
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("filename must not contain path separators or traversal: %q", name)
	}
	if !filenamePattern.MatchString(name) {
		return fmt.Errorf("invalid filename: %q (letters, digits, dots, underscores, hyphens only)", name)
	}
	if !HasSourceExtension(name) {
		return fmt.Errorf("unsupported file type: %q (expected a C/C++ source or header)", name)
	}
	return nil
}

// HasSourceExtension reports whether the name carries a C/C++ extension
// from the allowlist.
func HasSourceExtension(name string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(name))]
}

// ValidateSourcePath validates a CLI-provided path to a source file.
// Unlike ValidateFilename it allows directories in the path, but still
// rejects NUL bytes and non-source extensions.
func ValidateSourcePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains NUL byte")
	}
	if !HasSourceExtension(path) {
		return fmt.Errorf("unsupported file type: %q (expected a C/C++ source or header)", path)
	}
	return nil
}

// ValidateRuleID validates a MISRA rule identifier before it is echoed
// into prompts or filter expressions.
func ValidateRuleID(id string) error {
	if id == "" {
		return fmt.Errorf("rule id cannot be empty")
	}
	if !ruleIDPattern.MatchString(id) {
		return fmt.Errorf("invalid rule id: %q", id)
	}
	return nil
}

// SanitizeFilename normalizes and validates an uploaded filename.
// Returns the trimmed base name if valid, or an error.
//
// Use this at the upload boundary:
//
//	safeName, err := validation.SanitizeFilename(req.Filename)
//	if err != nil {
//	    return err
//	}
//	path := filepath.Join(sessionDir, safeName)
func SanitizeFilename(name string) (string, error) {
	normalized := filepath.Base(strings.TrimSpace(name))
	if err := ValidateFilename(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
