// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"errors"
	"strings"
	"testing"
)

const sampleDiff = `--- a/src/calc.c
+++ b/src/calc.c
@@ -3,4 +3,4 @@
-int add(int a, int b)
+static int add(int a, int b)
 {
     return a + b;
 }
`

func TestParse_FencedDiffWithProse(t *testing.T) {
	raw := "Here is the fix:\n\n```diff\n" + sampleDiff + "```\n\nThis limits linkage per the rule.\n"
	p, err := Parse(raw, "src/calc.c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.FilePath != "src/calc.c" {
		t.Errorf("FilePath = %q", p.FilePath)
	}
	if len(p.Hunks) != 1 {
		t.Fatalf("hunks = %d, want 1", len(p.Hunks))
	}
	h := p.Hunks[0]
	if h.OldStart != 3 || h.OldLines != 4 || h.NewStart != 3 || h.NewLines != 4 {
		t.Errorf("hunk header = @@ -%d,%d +%d,%d", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
	}
	if !strings.Contains(h.Content, "+static int add") {
		t.Errorf("hunk content = %q", h.Content)
	}
	if p.Raw != raw {
		t.Error("Raw must preserve the full model output")
	}
}

func TestParse_BareDiffTrimsTrailingProse(t *testing.T) {
	raw := "Sure, here's the patch:\n" + sampleDiff + "The change makes the helper static.\n"
	p, err := Parse(raw, "src/calc.c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Hunks) != 1 {
		t.Fatalf("hunks = %d, want 1", len(p.Hunks))
	}
	if strings.Contains(p.Hunks[0].Content, "helper static") {
		t.Error("trailing prose leaked into the hunk body")
	}
}

func TestParse_HeaderlessHunks(t *testing.T) {
	raw := "@@ -3,4 +3,4 @@\n-int add(int a, int b)\n+static int add(int a, int b)\n {\n     return a + b;\n }\n"
	p, err := Parse(raw, "src/calc.c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.FilePath != "src/calc.c" {
		t.Errorf("headerless diff must inherit the target file, got %q", p.FilePath)
	}
}

func TestParse_BasenameOnlyPathAccepted(t *testing.T) {
	raw := strings.ReplaceAll(sampleDiff, "a/src/calc.c", "calc.c")
	raw = strings.ReplaceAll(raw, "b/src/calc.c", "calc.c")
	if _, err := Parse(raw, "src/calc.c"); err != nil {
		t.Errorf("basename-only diff path should match: %v", err)
	}
}

func TestParse_WrongFile(t *testing.T) {
	raw := strings.ReplaceAll(sampleDiff, "calc.c", "other.c")
	_, err := Parse(raw, "src/calc.c")
	if !errors.Is(err, ErrMultiFileDiff) {
		t.Errorf("err = %v, want ErrMultiFileDiff", err)
	}
}

func TestParse_MultiFile(t *testing.T) {
	second := strings.ReplaceAll(sampleDiff, "calc.c", "util.c")
	_, err := Parse(sampleDiff+second, "src/calc.c")
	if !errors.Is(err, ErrMultiFileDiff) {
		t.Errorf("err = %v, want ErrMultiFileDiff", err)
	}
}

func TestParse_NoDiff(t *testing.T) {
	_, err := Parse("I cannot produce a patch for this violation.", "src/calc.c")
	if !errors.Is(err, ErrMalformedPatch) {
		t.Errorf("err = %v, want ErrMalformedPatch", err)
	}
}

func TestParse_FileDeletionRejected(t *testing.T) {
	raw := "--- a/src/calc.c\n+++ /dev/null\n@@ -1,2 +0,0 @@\n-int x;\n-int y;\n"
	_, err := Parse(raw, "src/calc.c")
	if !errors.Is(err, ErrMalformedPatch) {
		t.Errorf("err = %v, want ErrMalformedPatch", err)
	}
}

func TestParse_TooLarge(t *testing.T) {
	raw := "--- a/src/calc.c\n+++ b/src/calc.c\n@@ -1,1 +1,500 @@\n-int x;\n" +
		strings.Repeat("+int y;\n", 500)
	_, err := Parse(raw, "src/calc.c")
	if !errors.Is(err, ErrPatchTooLarge) {
		t.Errorf("err = %v, want ErrPatchTooLarge", err)
	}
}

func TestParse_SortsHunksAscending(t *testing.T) {
	raw := "--- a/src/calc.c\n+++ b/src/calc.c\n" +
		"@@ -10,1 +10,1 @@\n-    return 0;\n+    return EXIT_SUCCESS;\n" +
		"@@ -3,1 +3,1 @@\n-int add(int a, int b)\n+static int add(int a, int b)\n"
	p, err := Parse(raw, "src/calc.c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Hunks) != 2 || p.Hunks[0].OldStart != 3 || p.Hunks[1].OldStart != 10 {
		t.Errorf("hunks not sorted ascending: %+v", p.Hunks)
	}
}
