// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "errors"

var (
	// ErrRetriesExhausted means every allowed generation attempt failed.
	// The task's failure reason keeps the last attempt's diagnostic.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrStaleContext means the target file no longer matches the snapshot
	// the task was extracted from. Stale tasks are failed, never re-based.
	ErrStaleContext = errors.New("stale context")

	// ErrSessionNotFound means no session with the given ID exists.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTaskNotFound means no task with the given ID exists in the session.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotValidated means an apply was requested for a task that is not
	// sitting in Validated with a passing result.
	ErrNotValidated = errors.New("task has no validated patch")

	// ErrSessionClosed means the session already committed a patch or was
	// shut down; it accepts no further actions.
	ErrSessionClosed = errors.New("session closed")
)
