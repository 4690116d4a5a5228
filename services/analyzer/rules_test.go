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
	"strings"
	"testing"
)

func TestDescribe(t *testing.T) {
	t.Run("catalog hit", func(t *testing.T) {
		got := Describe("misra-c2012-8.4", "fallback")
		if !strings.Contains(got, "external linkage") {
			t.Errorf("Describe(misra-c2012-8.4) = %q", got)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		if Describe("MISRA-C2012-8.4", "fallback") == "fallback" {
			t.Error("lookup should be case-insensitive")
		}
	})

	t.Run("bare numeric id", func(t *testing.T) {
		got := Describe("8.4", "fallback")
		if got == "fallback" {
			t.Error("bare numeric id should resolve through the c2012 namespace")
		}
	})

	t.Run("unknown rule falls back", func(t *testing.T) {
		got := Describe("misra-c2012-99.99", "analyzer message text")
		if got != "analyzer message text" {
			t.Errorf("Describe(unknown) = %q, want fallback", got)
		}
	})
}

func TestKnownRule(t *testing.T) {
	if !KnownRule("misra-c2012-17.7") {
		t.Error("17.7 should be in the catalog")
	}
	if !KnownRule("17.7") {
		t.Error("bare 17.7 should resolve")
	}
	if KnownRule("unusedVariable") {
		t.Error("general checks are not in the MISRA catalog")
	}
}
