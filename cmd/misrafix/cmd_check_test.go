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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/MisraFix/services/analyzer"
)

// =============================================================================
// FILE COLLECTION TESTS
// =============================================================================

func TestCollectSourceFiles_Directory(t *testing.T) {
	tmpDir := t.TempDir()

	// A mixed tree: sources at two levels plus files the walker must skip.
	os.WriteFile(filepath.Join(tmpDir, "b.c"), []byte("int x;"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "a.h"), []byte("extern int x;"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# docs"), 0644)
	os.Mkdir(filepath.Join(tmpDir, "sub"), 0755)
	os.WriteFile(filepath.Join(tmpDir, "sub", "c.cpp"), []byte("int y;"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "sub", "notes.txt"), []byte("todo"), 0644)

	files, err := collectSourceFiles([]string{tmpDir})
	if err != nil {
		t.Fatalf("collectSourceFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("Expected 3 source files, got %d: %v", len(files), files)
	}

	// The list is sorted, so relative order is deterministic.
	wantSuffixes := []string{"a.h", "b.c", filepath.Join("sub", "c.cpp")}
	for i, want := range wantSuffixes {
		if !strings.HasSuffix(files[i], want) {
			t.Errorf("files[%d] = %q, want suffix %q", i, files[i], want)
		}
	}
}

func TestCollectSourceFiles_NamedFile(t *testing.T) {
	tmpDir := t.TempDir()
	source := filepath.Join(tmpDir, "motor.c")
	os.WriteFile(source, []byte("int main(void) { return 0; }"), 0644)

	files, err := collectSourceFiles([]string{source})
	if err != nil {
		t.Fatalf("collectSourceFiles failed: %v", err)
	}
	if len(files) != 1 || files[0] != source {
		t.Errorf("Expected [%s], got %v", source, files)
	}
}

func TestCollectSourceFiles_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	textFile := filepath.Join(tmpDir, "notes.txt")
	os.WriteFile(textFile, []byte("not code"), 0644)

	tests := []struct {
		name string
		args []string
	}{
		{"missing path", []string{filepath.Join(tmpDir, "does-not-exist.c")}},
		{"named non-source file", []string{textFile}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := collectSourceFiles(tt.args); err == nil {
				t.Errorf("Expected an error for %v, got nil", tt.args)
			}
		})
	}
}

// =============================================================================
// RESULT ORDERING AND RENDERING TESTS
// =============================================================================

func TestFlattenViolations_Ordering(t *testing.T) {
	byFile := map[string][]analyzer.Violation{
		"zeta.c": {
			{FilePath: "zeta.c", Line: 4, Column: 2, RuleID: "misra-c2012-8.4"},
		},
		"alpha.c": {
			{FilePath: "alpha.c", Line: 9, Column: 1, RuleID: "misra-c2012-10.4"},
			{FilePath: "alpha.c", Line: 2, Column: 8, RuleID: "misra-c2012-17.7"},
			{FilePath: "alpha.c", Line: 2, Column: 3, RuleID: "misra-c2012-15.5"},
		},
	}

	all := flattenViolations(byFile)
	if len(all) != 4 {
		t.Fatalf("Expected 4 violations, got %d", len(all))
	}

	wantOrder := []struct {
		file string
		line int
		col  int
	}{
		{"alpha.c", 2, 3},
		{"alpha.c", 2, 8},
		{"alpha.c", 9, 1},
		{"zeta.c", 4, 2},
	}
	for i, want := range wantOrder {
		got := all[i]
		if got.FilePath != want.file || got.Line != want.line || got.Column != want.col {
			t.Errorf("all[%d] = %s:%d:%d, want %s:%d:%d",
				i, got.FilePath, got.Line, got.Column, want.file, want.line, want.col)
		}
	}
}

func TestFlattenViolations_Empty(t *testing.T) {
	if got := flattenViolations(map[string][]analyzer.Violation{}); len(got) != 0 {
		t.Errorf("Expected no violations, got %v", got)
	}
}

func TestRenderViolationTable(t *testing.T) {
	violations := []analyzer.Violation{
		{FilePath: "motor.c", Line: 12, RuleID: "misra-c2012-8.4", Severity: "style", Message: "missing declaration"},
		{FilePath: "motor.c", Line: 40, RuleID: "misra-c2012-17.7", Severity: "style", Message: "return value unused"},
	}

	out := renderViolationTable(violations)

	for _, want := range []string{"motor.c", "misra-c2012-8.4", "misra-c2012-17.7", "2 violation(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Table output missing %q:\n%s", want, out)
		}
	}
}
