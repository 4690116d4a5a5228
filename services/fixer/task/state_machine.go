// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned for a transition the machine forbids.
var ErrInvalidTransition = errors.New("invalid task transition")

// StateMachine enforces the remediation lifecycle.
//
// The transition graph:
//
//	Pending      → ContextBuilt : context window extracted
//	ContextBuilt → Prompted     : prompt rendered
//	Prompted     → Generated    : model produced output
//	Generated    → Validated    : output parsed and graded
//	Validated    → Applied      : patch accepted and written
//	Validated    → Rejected     : reviewer declined the patch
//	Validated    → Prompted     : validation failed, bounded retry
//	<any live>   → Failed       : unrecoverable error or retries exhausted
//
// Applied, Rejected and Failed are terminal. A violation whose task
// terminated can only be worked again through a fresh extraction pass,
// which creates a new task identity.
//
// Thread Safety: StateMachine is safe for concurrent use.
type StateMachine struct {
	mu          sync.RWMutex
	transitions map[Status]map[Status]bool
}

// NewStateMachine creates a state machine with the remediation graph.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[Status]map[Status]bool),
	}
	for _, s := range AllStatuses() {
		sm.transitions[s] = make(map[Status]bool)
	}

	sm.addTransition(StatusPending, StatusContextBuilt)
	sm.addTransition(StatusContextBuilt, StatusPrompted)
	sm.addTransition(StatusPrompted, StatusGenerated)
	sm.addTransition(StatusGenerated, StatusValidated)

	sm.addTransition(StatusValidated, StatusApplied)
	sm.addTransition(StatusValidated, StatusRejected)
	sm.addTransition(StatusValidated, StatusPrompted)

	for _, s := range AllStatuses() {
		if !s.IsTerminal() {
			sm.addTransition(s, StatusFailed)
		}
	}

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to Status) {
	sm.transitions[from][to] = true
}

// CanTransition checks whether from → to is allowed.
func (sm *StateMachine) CanTransition(from, to Status) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition moves t to the target status, or returns
// ErrInvalidTransition without touching the task.
func (sm *StateMachine) Transition(t *Task, to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !sm.CanTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrInvalidTransition, t.status, to, t.ID)
	}
	t.setStatusLocked(to)
	return nil
}

// ValidTransitionsFrom lists the allowed target statuses.
func (sm *StateMachine) ValidTransitionsFrom(from Status) []Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []Status
	for _, s := range AllStatuses() {
		if sm.transitions[from][s] {
			result = append(result, s)
		}
	}
	return result
}

// TransitionReason describes why a transition happens, for event feeds.
func (sm *StateMachine) TransitionReason(from, to Status) string {
	if to == StatusFailed {
		return "unrecoverable error or retries exhausted"
	}
	reasons := map[string]string{
		"Pending->ContextBuilt":  "context window extracted",
		"ContextBuilt->Prompted": "prompt rendered",
		"Prompted->Generated":    "model produced output",
		"Generated->Validated":   "output parsed and graded",
		"Validated->Applied":     "patch accepted and written",
		"Validated->Rejected":    "reviewer declined the patch",
		"Validated->Prompted":    "validation failed, retrying",
	}
	if reason, ok := reasons[from.String()+"->"+to.String()]; ok {
		return reason
	}
	return "unknown transition"
}

// DefaultStateMachine is the shared machine instance.
var DefaultStateMachine = NewStateMachine()

// Transition is a convenience function using the default state machine.
func Transition(t *Task, to Status) error {
	return DefaultStateMachine.Transition(t, to)
}

// CanTransition is a convenience function using the default state machine.
func CanTransition(from, to Status) bool {
	return DefaultStateMachine.CanTransition(from, to)
}
