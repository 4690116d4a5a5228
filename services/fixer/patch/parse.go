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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// MaxPatchLines caps the extracted diff. A single-violation fix should be
// a handful of hunks; anything bigger is the model rewriting the file.
const MaxPatchLines = 400

// Parse extracts the unified diff from raw model output and returns it as
// a Patch against targetFile. Commentary around the diff is tolerated and
// discarded. Hunks come back sorted ascending by old-file position.
func Parse(raw, targetFile string) (*Patch, error) {
	text := extractDiffText(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: output contains no diff markers", ErrMalformedPatch)
	}
	if strings.Count(text, "\n") > MaxPatchLines {
		return nil, fmt.Errorf("%w: %d lines (max %d)", ErrPatchTooLarge, strings.Count(text, "\n"), MaxPatchLines)
	}

	var (
		hunks    []*diff.Hunk
		diffPath string
	)

	if strings.HasPrefix(text, "@@") {
		// Headerless diff, common when the model obeys "only the diff"
		// a little too literally. Attribute it to the violation's file.
		parsed, err := diff.ParseHunks([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPatch, err)
		}
		hunks = parsed
		diffPath = targetFile
	} else {
		fds, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPatch, err)
		}
		switch len(fds) {
		case 0:
			return nil, fmt.Errorf("%w: diff contains no files", ErrMalformedPatch)
		case 1:
		default:
			return nil, fmt.Errorf("%w: diff touches %d files", ErrMultiFileDiff, len(fds))
		}

		fd := fds[0]
		diffPath = diffTargetPath(fd)
		if diffPath == "" || fd.NewName == "/dev/null" {
			return nil, fmt.Errorf("%w: diff creates or deletes a file", ErrMalformedPatch)
		}
		if !samePath(targetFile, diffPath) {
			return nil, fmt.Errorf("%w: diff is for %q, expected %q", ErrMultiFileDiff, diffPath, targetFile)
		}
		hunks = fd.Hunks
	}

	if len(hunks) == 0 {
		return nil, fmt.Errorf("%w: diff contains no hunks", ErrMalformedPatch)
	}

	p := &Patch{
		FilePath: targetFile,
		Raw:      raw,
		Hunks:    make([]Hunk, 0, len(hunks)),
	}
	for _, h := range hunks {
		p.Hunks = append(p.Hunks, Hunk{
			OldStart: int(h.OrigStartLine),
			OldLines: int(h.OrigLines),
			NewStart: int(h.NewStartLine),
			NewLines: int(h.NewLines),
			Content:  strings.TrimSuffix(string(h.Body), "\n"),
		})
	}
	sortHunks(p.Hunks)
	return p, nil
}

// diffTargetPath picks the edited path from a file diff, preferring the
// new name, with git's a/ b/ prefixes stripped.
func diffTargetPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

// samePath reports whether the diff path plausibly names the target file.
// Models frequently echo just the basename or a shortened relative path.
func samePath(target, got string) bool {
	if target == got {
		return true
	}
	if filepath.Base(target) == filepath.Base(got) {
		if strings.HasSuffix(target, "/"+got) || strings.HasSuffix(got, "/"+target) {
			return true
		}
		// Bare basename from the model matches any directory.
		if got == filepath.Base(got) || target == filepath.Base(target) {
			return true
		}
	}
	return false
}

// extractDiffText locates the diff inside raw model output. Fenced code
// blocks are preferred; otherwise the first run of diff-shaped lines is
// taken.
func extractDiffText(raw string) string {
	if block := fencedDiffBlock(raw); block != "" {
		return block
	}
	return bareDiffRun(raw)
}

// fencedDiffBlock returns the first ``` block that looks like a diff.
func fencedDiffBlock(raw string) string {
	lines := strings.Split(raw, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			continue
		}
		var block []string
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				text := strings.Join(block, "\n")
				if strings.Contains(text, "@@ -") {
					return strings.TrimSpace(text)
				}
				i = j
				break
			}
			block = append(block, lines[j])
		}
	}
	return ""
}

// bareDiffRun scans for an unfenced diff and trims trailing prose.
func bareDiffRun(raw string) string {
	lines := strings.Split(raw, "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "diff --git") || strings.HasPrefix(line, "@@ -") {
			start = i
			break
		}
	}
	if start == -1 {
		return ""
	}

	end := start
	sawHunk := false
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "@@ -") {
			sawHunk = true
		}
		if isDiffLine(line) || (line == "" && i+1 < len(lines) && isDiffLine(lines[i+1])) {
			end = i
			continue
		}
		break
	}
	if !sawHunk {
		return ""
	}
	return strings.Join(lines[start:end+1], "\n")
}

func isDiffLine(line string) bool {
	for _, prefix := range []string{"diff ", "index ", "Index: ", "=== ", "--- ", "+++ ", "@@ -", "+", "-", " ", "\\"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
