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
	"strings"
)

// Apply produces the patched content in memory. Hunks are applied in
// ascending old-file order, and every context and removed line is checked
// against the original; any disagreement aborts with ErrContextMismatch
// rather than guessing.
func Apply(original []byte, p *Patch) ([]byte, error) {
	if p == nil || len(p.Hunks) == 0 {
		return nil, fmt.Errorf("%w: nothing to apply", ErrMalformedPatch)
	}

	origLines := strings.Split(string(original), "\n")
	out := make([]string, 0, len(origLines))
	cursor := 0 // 0-based index into origLines

	for _, h := range p.Hunks {
		start := h.OldStart - 1
		if h.OldLines == 0 {
			// Pure insertion: the hunk position names the line the new
			// content goes after.
			start = h.OldStart
		}
		if start < cursor || start > len(origLines) {
			return nil, fmt.Errorf("%w: hunk at line %d", ErrPatchOutOfBounds, h.OldStart)
		}

		out = append(out, origLines[cursor:start]...)
		cursor = start

		for _, line := range strings.Split(h.Content, "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				out = append(out, line[1:])
			case strings.HasPrefix(line, "-"):
				if cursor >= len(origLines) || origLines[cursor] != line[1:] {
					return nil, contextMismatch(h, cursor, origLines, line[1:])
				}
				cursor++
			case strings.HasPrefix(line, " "):
				if cursor >= len(origLines) || origLines[cursor] != line[1:] {
					return nil, contextMismatch(h, cursor, origLines, line[1:])
				}
				out = append(out, origLines[cursor])
				cursor++
			case strings.HasPrefix(line, "\\"):
				// "\ No newline at end of file" markers carry no content.
			case line == "":
				// Tolerate a blank context line the model forgot to
				// prefix, but only where the original is blank too.
				if cursor < len(origLines) && origLines[cursor] == "" {
					out = append(out, "")
					cursor++
				}
			default:
				return nil, fmt.Errorf("%w: unexpected hunk line %q", ErrMalformedPatch, line)
			}
		}
	}

	out = append(out, origLines[cursor:]...)
	return []byte(strings.Join(out, "\n")), nil
}

func contextMismatch(h Hunk, cursor int, origLines []string, want string) error {
	got := "<end of file>"
	if cursor < len(origLines) {
		got = origLines[cursor]
	}
	return fmt.Errorf("%w: hunk @@ -%d expects %q at line %d, file has %q",
		ErrContextMismatch, h.OldStart, want, cursor+1, got)
}
