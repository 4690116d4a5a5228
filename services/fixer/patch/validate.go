// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"bytes"
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	tsc "github.com/smacker/go-tree-sitter/c"
	tscpp "github.com/smacker/go-tree-sitter/cpp"

	"github.com/AleutianAI/MisraFix/services/analyzer"
)

// ValidationResult reports what semantic validation concluded about a
// patch. PatchApplied false means the later fields are meaningless.
type ValidationResult struct {
	PatchApplied       bool                 `json:"patchApplied"`
	SyntaxValid        bool                 `json:"syntaxValid"`
	ViolationResolved  bool                 `json:"violationResolved"`
	NewViolations      []analyzer.Violation `json:"newViolations,omitempty"`
	PatchedContent     []byte               `json:"-"`
	FailureDescription string               `json:"failureDescription,omitempty"`
}

// Passed reports whether the patch cleared every gate. Callers that
// tolerate specific new violations (already-covered lines) filter
// NewViolations before asking.
func (r *ValidationResult) Passed() bool {
	return r.PatchApplied && r.SyntaxValid && r.ViolationResolved && len(r.NewViolations) == 0
}

// ValidateStructure checks hunk ranges against the current file bounds
// and rejects overlapping hunks. totalLines is the current line count of
// the target file.
func ValidateStructure(p *Patch, totalLines int) error {
	if p == nil || len(p.Hunks) == 0 {
		return fmt.Errorf("%w: no hunks", ErrMalformedPatch)
	}

	prevEnd := 0 // last old line covered by the previous hunk
	for _, h := range p.Hunks {
		if h.OldStart < 1 || h.OldLines < 0 {
			return fmt.Errorf("%w: hunk @@ -%d,%d", ErrPatchOutOfBounds, h.OldStart, h.OldLines)
		}
		last := h.OldStart + h.OldLines - 1
		if last > totalLines || h.OldStart > totalLines {
			return fmt.Errorf("%w: hunk @@ -%d,%d exceeds %d lines", ErrPatchOutOfBounds, h.OldStart, h.OldLines, totalLines)
		}
		if h.OldStart <= prevEnd {
			return fmt.Errorf("%w: hunk @@ -%d,%d collides with the previous hunk", ErrPatchOverlap, h.OldStart, h.OldLines)
		}
		if last > prevEnd {
			prevEnd = last
		}
	}
	return nil
}

// CheckSyntax parses content with the grammar matching filePath and
// reports the first syntax error, or nil when the tree is clean. Files
// with no matching grammar pass by default.
func CheckSyntax(ctx context.Context, content []byte, filePath string) error {
	var lang *sitter.Language
	switch analyzer.LanguageFromPath(filePath) {
	case analyzer.LanguageC:
		lang = tsc.GetLanguage()
	case analyzer.LanguageCPP:
		lang = tscpp.GetLanguage()
	default:
		return nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("parsing patched content: %w", err)
	}
	defer tree.Close()

	if node := firstErrorNode(tree.RootNode()); node != nil {
		return fmt.Errorf("syntax error at line %d of patched %s", int(node.StartPoint().Row)+1, filePath)
	}
	return nil
}

// firstErrorNode finds the first error or missing node in the tree.
func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		if err := firstErrorNode(node.Child(int(i))); err != nil {
			return err
		}
	}
	return nil
}

// Validator performs semantic validation: apply in memory, gate on
// syntax, re-run the analyzer and compare violation sets.
type Validator struct {
	analyzer analyzer.Analyzer
}

// NewValidator builds a Validator around the given analyzer.
func NewValidator(a analyzer.Analyzer) *Validator {
	return &Validator{analyzer: a}
}

// Validate applies p to original in memory and grades the outcome for the
// violation v. before is the full violation set for the file from the
// extraction pass; it anchors the new-violation comparison.
func (vd *Validator) Validate(ctx context.Context, original []byte, p *Patch, v analyzer.Violation, before []analyzer.Violation) (*ValidationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &ValidationResult{}

	if err := ValidateStructure(p, lineCount(original)); err != nil {
		result.FailureDescription = err.Error()
		return result, nil
	}

	patched, err := Apply(original, p)
	if err != nil {
		result.FailureDescription = err.Error()
		return result, nil
	}
	result.PatchApplied = true
	result.PatchedContent = patched

	if bytes.Equal(patched, original) {
		result.SyntaxValid = true
		result.FailureDescription = "patch is a no-op"
		return result, nil
	}

	if err := CheckSyntax(ctx, patched, p.FilePath); err != nil {
		result.FailureDescription = err.Error()
		return result, nil
	}
	result.SyntaxValid = true

	after, err := vd.analyzer.AnalyzeContent(ctx, patched, p.FilePath)
	if err != nil {
		// Analyzer failures are infrastructure errors, not a verdict on
		// the patch.
		return nil, fmt.Errorf("re-running analyzer on patched %s: %w", p.FilePath, err)
	}

	result.ViolationResolved = !violationStillPresent(p, v, after)
	result.NewViolations = newViolations(p, before, after)
	if !result.ViolationResolved {
		result.FailureDescription = "violation still reported after patch"
	} else if len(result.NewViolations) > 0 {
		result.FailureDescription = fmt.Sprintf("patch introduces %d new violation(s)", len(result.NewViolations))
	}
	return result, nil
}

// lineCount counts content lines the way Apply splits them, so the
// structural bounds check and the applier agree on the file size.
func lineCount(content []byte) int {
	return bytes.Count(content, []byte("\n")) + 1
}

// violationStillPresent checks whether v survives in the patched file.
// Lines outside the hunks compare at their mapped position; if the
// violating line was consumed by a hunk, any same-rule finding inside
// that hunk's new range counts as unresolved.
func violationStillPresent(p *Patch, v analyzer.Violation, after []analyzer.Violation) bool {
	if mapped, ok := p.MapLine(v.Line); ok {
		for _, a := range after {
			if a.RuleID == v.RuleID && a.Line == mapped {
				return true
			}
		}
		return false
	}
	for _, h := range p.Hunks {
		if v.Line < h.OldStart || v.Line >= h.OldStart+h.OldLines {
			continue
		}
		lo, hi := h.NewRange()
		for _, a := range after {
			if a.RuleID == v.RuleID && a.Line >= lo && a.Line <= hi {
				return true
			}
		}
	}
	return false
}

// newViolations returns findings in after with no counterpart in before
// once the before lines are mapped through the patch.
func newViolations(p *Patch, before, after []analyzer.Violation) []analyzer.Violation {
	type key struct {
		rule string
		line int
	}
	known := make(map[key]bool, len(before)*2)
	for _, b := range before {
		if mapped, ok := p.MapLine(b.Line); ok {
			known[key{b.RuleID, mapped}] = true
			continue
		}
		// Lines consumed by a hunk can only be matched approximately:
		// treat the whole new range as covered for that rule.
		for _, h := range p.Hunks {
			if b.Line >= h.OldStart && b.Line < h.OldStart+h.OldLines {
				lo, hi := h.NewRange()
				for l := lo; l <= hi; l++ {
					known[key{b.RuleID, l}] = true
				}
			}
		}
	}

	var fresh []analyzer.Violation
	for _, a := range after {
		if !known[key{a.RuleID, a.Line}] {
			fresh = append(fresh, a)
		}
	}
	return fresh
}
