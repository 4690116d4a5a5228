// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"reflect"
	"strings"
	"testing"
)

func TestMapLine(t *testing.T) {
	p := &Patch{Hunks: []Hunk{
		{OldStart: 5, OldLines: 2, NewStart: 5, NewLines: 4},
	}}

	cases := []struct {
		line   int
		want   int
		mapped bool
	}{
		{1, 1, true},
		{4, 4, true},
		{5, 0, false},
		{6, 0, false},
		{7, 9, true},
		{20, 22, true},
	}
	for _, tc := range cases {
		got, ok := p.MapLine(tc.line)
		if got != tc.want || ok != tc.mapped {
			t.Errorf("MapLine(%d) = (%d, %v), want (%d, %v)", tc.line, got, ok, tc.want, tc.mapped)
		}
	}
}

func TestMapLine_InsertionAnchorUnmoved(t *testing.T) {
	// A pure insertion goes after its anchor line, so the anchor itself
	// must map to its own position; only lines below it shift.
	p := &Patch{Hunks: []Hunk{
		{OldStart: 5, OldLines: 0, NewStart: 6, NewLines: 2, Content: "+ins1\n+ins2"},
	}}

	cases := []struct {
		line int
		want int
	}{
		{4, 4},
		{5, 5},
		{6, 8},
	}
	for _, tc := range cases {
		got, ok := p.MapLine(tc.line)
		if !ok || got != tc.want {
			t.Errorf("MapLine(%d) = (%d, %v), want (%d, true)", tc.line, got, ok, tc.want)
		}
	}
}

func TestMapLine_AgreesWithApplyOnInsertion(t *testing.T) {
	src := "l1\nl2\nl3\nl4\nl5\nl6"
	p := &Patch{Hunks: []Hunk{
		{OldStart: 5, OldLines: 0, NewStart: 6, NewLines: 2, Content: "+ins1\n+ins2"},
	}}

	out, err := Apply([]byte(src), p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	lines := strings.Split(string(out), "\n")

	for old := 1; old <= 6; old++ {
		mapped, ok := p.MapLine(old)
		if !ok {
			t.Fatalf("MapLine(%d) consumed by a pure insertion", old)
		}
		want := "l" + string(rune('0'+old))
		if lines[mapped-1] != want {
			t.Errorf("MapLine(%d) = %d, but patched line %d is %q, want %q",
				old, mapped, mapped, lines[mapped-1], want)
		}
	}
	if lines[5] != "ins1" || lines[6] != "ins2" {
		t.Errorf("insertion landed wrong:\n%s", string(out))
	}
}

func TestCoversOldLine(t *testing.T) {
	p := &Patch{Hunks: []Hunk{{OldStart: 5, OldLines: 2, NewStart: 5, NewLines: 2}}}
	for line, want := range map[int]bool{4: false, 5: true, 6: true, 7: false} {
		if got := p.CoversOldLine(line); got != want {
			t.Errorf("CoversOldLine(%d) = %v, want %v", line, got, want)
		}
	}
}

func TestUnified_RoundTrip(t *testing.T) {
	// Rendering a parsed patch and re-parsing it must reproduce the same
	// file path and hunks, whatever the model wrapped the diff in.
	raws := map[string]string{
		"fenced replacement": sampleDiff,
		"multi hunk": "--- a/src/calc.c\n+++ b/src/calc.c\n" +
			"@@ -3,1 +3,1 @@\n-int add(int a, int b)\n+static int add(int a, int b)\n" +
			"@@ -11,1 +11,1 @@\n-    return 0;\n+    return (0);\n",
		"pure insertion": "--- a/src/calc.c\n+++ b/src/calc.c\n" +
			"@@ -1,0 +2,1 @@\n+/* calc utilities */\n",
		"deletion": "--- a/src/calc.c\n+++ b/src/calc.c\n" +
			"@@ -2,1 +1,0 @@\n-\n",
	}

	for name, raw := range raws {
		t.Run(name, func(t *testing.T) {
			first, err := Parse(raw, "src/calc.c")
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			second, err := Parse(first.Unified(), "src/calc.c")
			if err != nil {
				t.Fatalf("re-Parse of Unified output: %v", err)
			}
			if second.FilePath != first.FilePath {
				t.Errorf("FilePath = %q, want %q", second.FilePath, first.FilePath)
			}
			if !reflect.DeepEqual(second.Hunks, first.Hunks) {
				t.Errorf("hunks diverged:\nfirst:  %+v\nsecond: %+v", first.Hunks, second.Hunks)
			}
		})
	}
}

func TestUnified_HeadersExplicit(t *testing.T) {
	p := &Patch{FilePath: "src/calc.c", Hunks: []Hunk{
		{OldStart: 5, OldLines: 0, NewStart: 6, NewLines: 2, Content: "+a\n+b"},
	}}
	out := p.Unified()
	if !strings.HasPrefix(out, "--- a/src/calc.c\n+++ b/src/calc.c\n") {
		t.Errorf("missing file headers:\n%s", out)
	}
	if !strings.Contains(out, "@@ -5,0 +6,2 @@\n+a\n+b\n") {
		t.Errorf("hunk header must keep explicit zero counts:\n%s", out)
	}
}

func TestStats(t *testing.T) {
	p := &Patch{Hunks: []Hunk{
		{Content: "-old line\n+new line\n context"},
		{Content: "+added only"},
	}}
	s := p.Stats()
	if s.Hunks != 2 || s.LinesAdded != 2 || s.LinesRemoved != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestHunkNewRange(t *testing.T) {
	h := Hunk{NewStart: 5, NewLines: 3}
	if lo, hi := h.NewRange(); lo != 5 || hi != 7 {
		t.Errorf("NewRange = %d..%d, want 5..7", lo, hi)
	}
	empty := Hunk{NewStart: 5, NewLines: 0}
	if lo, hi := empty.NewRange(); lo != 5 || hi != 5 {
		t.Errorf("empty NewRange = %d..%d, want 5..5", lo, hi)
	}
}
