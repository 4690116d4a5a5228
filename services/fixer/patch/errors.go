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

import "errors"

var (
	// ErrMalformedPatch means no parseable unified diff hunk was found in
	// the model output.
	ErrMalformedPatch = errors.New("no valid patch found in model output")

	// ErrMultiFileDiff means the diff touches a file other than the
	// violation's file. Single-violation prompts never justify
	// cross-file edits.
	ErrMultiFileDiff = errors.New("patch references a different file")

	// ErrPatchOutOfBounds means a hunk range falls outside the current
	// file bounds.
	ErrPatchOutOfBounds = errors.New("patch hunk out of file bounds")

	// ErrPatchOverlap means two hunks claim overlapping line ranges.
	ErrPatchOverlap = errors.New("patch hunks overlap")

	// ErrPatchTooLarge means the diff exceeds the configured size cap.
	ErrPatchTooLarge = errors.New("patch exceeds maximum size")

	// ErrContextMismatch means the hunk context no longer matches the
	// file content, so the patch cannot be applied.
	ErrContextMismatch = errors.New("patch context does not match file content")
)
