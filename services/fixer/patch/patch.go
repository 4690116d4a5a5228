// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch turns raw model output into structured, validated and
// applicable unified diffs.
//
// The flow is Parse -> ValidateStructure -> Apply, with the semantic
// Validator on top re-running the analyzer against the patched content.
// Nothing in this package writes to disk.
package patch

import (
	"fmt"
	"sort"
	"strings"
)

// Hunk is one contiguous edit. Line numbers are 1-based; OldLines and
// NewLines count the lines the hunk consumes in the old and new file.
// Content keeps the body with its +/-/space prefixes.
type Hunk struct {
	OldStart int    `json:"oldStart"`
	OldLines int    `json:"oldLines"`
	NewStart int    `json:"newStart"`
	NewLines int    `json:"newLines"`
	Content  string `json:"content"`
}

// Patch is a single-file unified diff extracted from model output.
type Patch struct {
	TaskID   string `json:"taskId,omitempty"`
	FilePath string `json:"filePath"`
	Hunks    []Hunk `json:"hunks"`
	Raw      string `json:"raw"`
}

// sortHunks orders hunks ascending by their position in the old file.
func sortHunks(hunks []Hunk) {
	sort.SliceStable(hunks, func(i, j int) bool {
		return hunks[i].OldStart < hunks[j].OldStart
	})
}

// Stats summarizes a patch for logging and the UI.
type Stats struct {
	Hunks        int `json:"hunks"`
	LinesAdded   int `json:"linesAdded"`
	LinesRemoved int `json:"linesRemoved"`
}

// Stats computes added/removed line counts from the hunk bodies.
func (p *Patch) Stats() Stats {
	s := Stats{Hunks: len(p.Hunks)}
	for _, h := range p.Hunks {
		for _, line := range strings.Split(h.Content, "\n") {
			if strings.HasPrefix(line, "+") {
				s.LinesAdded++
			} else if strings.HasPrefix(line, "-") {
				s.LinesRemoved++
			}
		}
	}
	return s
}

// Unified renders the patch back to canonical unified-diff text: file
// headers plus explicit @@ -start,count +start,count @@ hunk headers.
// Parsing the output yields the same file path and hunks, which is what
// the review surfaces serve instead of the model's raw chatter.
func (p *Patch) Unified() string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", p.FilePath, p.FilePath)
	for _, h := range p.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		b.WriteString(h.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// MapLine translates a 1-based line number in the old file to its
// position after the patch. Returns (line, true) for lines outside every
// hunk and (0, false) for lines consumed by a hunk, where no single
// post-patch line corresponds.
func (p *Patch) MapLine(line int) (int, bool) {
	delta := 0
	for _, h := range p.Hunks {
		if line < h.OldStart {
			break
		}
		if h.OldLines == 0 && line == h.OldStart {
			// Pure insertion: Apply puts the new lines after the anchor
			// line, so the anchor itself stays where it was.
			break
		}
		if line < h.OldStart+h.OldLines {
			return 0, false
		}
		delta += h.NewLines - h.OldLines
	}
	return line + delta, true
}

// CoversOldLine reports whether the given old-file line falls inside any
// hunk's replaced range.
func (p *Patch) CoversOldLine(line int) bool {
	for _, h := range p.Hunks {
		if line >= h.OldStart && line < h.OldStart+h.OldLines {
			return true
		}
	}
	return false
}

// NewRange returns the post-patch line span a hunk occupies.
func (h Hunk) NewRange() (int, int) {
	if h.NewLines == 0 {
		return h.NewStart, h.NewStart
	}
	return h.NewStart, h.NewStart + h.NewLines - 1
}
