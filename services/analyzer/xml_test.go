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
	"testing"
)

const sampleReport = `<?xml version="1.0" encoding="UTF-8"?>
<results version="2">
  <cppcheck version="2.13.0"/>
  <errors>
    <error id="misra-c2012-8.4" severity="style" msg="misra violation (use --rule-texts=&lt;file&gt; to get proper output)" verbose="misra violation">
      <location file="/tmp/misrafix-123.c" line="10" column="5"/>
    </error>
    <error id="misra-c2012-8.4" severity="style" msg="duplicate at same spot" verbose="">
      <location file="/tmp/misrafix-123.c" line="10" column="5"/>
    </error>
    <error id="unusedVariable" severity="style" msg="Unused variable: x" verbose="Unused variable: x">
      <location file="/tmp/misrafix-123.c" line="4" column="9"/>
    </error>
    <error id="missingIncludeSystem" severity="information" msg="Include file not found" verbose="">
      <location file="/tmp/misrafix-123.c" line="1" column="1"/>
    </error>
    <error id="checkersReport" severity="information" msg="Active checkers: 170/592"/>
  </errors>
</results>`

func TestParseReport(t *testing.T) {
	violations, err := ParseReport([]byte(sampleReport), "motor.c")
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}

	// Duplicate misra-8.4 collapses, information-level and location-less
	// records are dropped: two violations remain.
	if len(violations) != 2 {
		t.Fatalf("got %d violations, want 2: %+v", len(violations), violations)
	}

	// Sorted by line: unusedVariable (line 4) first.
	first := violations[0]
	if first.RuleID != "unusedVariable" || first.Line != 4 {
		t.Errorf("first violation = %s at line %d, want unusedVariable at 4", first.RuleID, first.Line)
	}

	second := violations[1]
	if second.RuleID != "misra-c2012-8.4" {
		t.Errorf("second RuleID = %q", second.RuleID)
	}
	if second.FilePath != "motor.c" {
		t.Errorf("FilePath = %q, want logical path motor.c", second.FilePath)
	}
	if second.Line != 10 || second.Column != 5 {
		t.Errorf("coordinates = %d:%d, want 10:5", second.Line, second.Column)
	}
	if second.Severity != SeverityStyle {
		t.Errorf("Severity = %q", second.Severity)
	}
	if second.ID == "" || second.ID == first.ID {
		t.Error("violations must carry distinct non-empty ids")
	}
}

func TestParseReport_KeepsReportedPathWithoutLogical(t *testing.T) {
	violations, err := ParseReport([]byte(sampleReport), "")
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	for _, v := range violations {
		if v.FilePath != "/tmp/misrafix-123.c" {
			t.Errorf("FilePath = %q, want reported path", v.FilePath)
		}
	}
}

func TestParseReport_Malformed(t *testing.T) {
	_, err := ParseReport([]byte("cppcheck: error: could not find file"), "x.c")
	if !errors.Is(err, ErrParseOutput) {
		t.Errorf("error = %v, want ErrParseOutput", err)
	}
}

func TestParseReport_Empty(t *testing.T) {
	empty := `<?xml version="1.0"?><results version="2"><cppcheck version="2.13.0"/><errors/></results>`
	violations, err := ParseReport([]byte(empty), "x.c")
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("got %d violations, want 0", len(violations))
	}
}

func TestViolation_Key(t *testing.T) {
	a := Violation{FilePath: "m.c", Line: 10, RuleID: "misra-c2012-8.4", Severity: "style"}
	b := Violation{FilePath: "m.c", Line: 10, RuleID: "misra-c2012-8.4", Severity: "error"}
	c := Violation{FilePath: "m.c", Line: 11, RuleID: "misra-c2012-8.4"}

	if a.Key() != b.Key() {
		t.Error("identity must ignore severity and message")
	}
	if a.Key() == c.Key() {
		t.Error("identity must include the line")
	}
}

func TestViolation_Summary(t *testing.T) {
	v := Violation{FilePath: "m.c", Line: 10, Column: 5, RuleID: "misra-c2012-8.4", Severity: "style", Message: "misra violation"}
	want := "m.c:10:5 style: misra violation (misra-c2012-8.4)"
	if got := v.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestViolation_IsMisra(t *testing.T) {
	if !(Violation{RuleID: "misra-c2012-10.1"}).IsMisra() {
		t.Error("misra-c2012 rule should be MISRA")
	}
	if (Violation{RuleID: "unusedVariable"}).IsMisra() {
		t.Error("general check is not MISRA")
	}
}

func TestLanguageFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Language
	}{
		{"main.c", LanguageC},
		{"include/api.h", LanguageC},
		{"driver.cpp", LanguageCPP},
		{"driver.CC", LanguageCPP},
		{"types.hpp", LanguageCPP},
		{"script.py", ""},
		{"Makefile", ""},
	}
	for _, tt := range tests {
		if got := LanguageFromPath(tt.path); got != tt.want {
			t.Errorf("LanguageFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
