// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package task holds the per-violation remediation task, its status
// lifecycle and the state machine guarding transitions.
package task

// Status is the lifecycle position of a remediation task.
type Status string

const (
	// StatusPending means the task exists but no work has started.
	StatusPending Status = "Pending"

	// StatusContextBuilt means the source context window is extracted.
	StatusContextBuilt Status = "ContextBuilt"

	// StatusPrompted means the prompt has been rendered for the model.
	StatusPrompted Status = "Prompted"

	// StatusGenerated means the model produced raw output.
	StatusGenerated Status = "Generated"

	// StatusValidated means the output was parsed and graded.
	StatusValidated Status = "Validated"

	// StatusApplied means the patch was accepted and written to disk.
	// Applied is terminal and immutable.
	StatusApplied Status = "Applied"

	// StatusRejected means a reviewer declined the validated patch.
	StatusRejected Status = "Rejected"

	// StatusFailed means the pipeline gave up on the task.
	StatusFailed Status = "Failed"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApplied, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// AllStatuses returns every status, in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusContextBuilt,
		StatusPrompted,
		StatusGenerated,
		StatusValidated,
		StatusApplied,
		StatusRejected,
		StatusFailed,
	}
}
