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

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
)

// SessionStatus describes where a session is in its life.
type SessionStatus string

const (
	// SessionRunning means remediation is still driving tasks.
	SessionRunning SessionStatus = "running"

	// SessionReview means every task settled; validated patches await
	// accept or reject decisions.
	SessionReview SessionStatus = "review"

	// SessionClosed means a patch was committed or the session was shut
	// down; no further actions are accepted.
	SessionClosed SessionStatus = "closed"
)

// Event is one task status change, delivered to session subscribers.
type Event struct {
	SessionID string    `json:"sessionId"`
	Task      task.View `json:"task"`
	At        time.Time `json:"at"`
}

// eventBuffer is the per-subscriber channel depth. Slow subscribers drop
// events rather than stall the pipeline.
const eventBuffer = 64

// Session is one file's remediation round: an immutable source snapshot,
// the tasks extracted from it, and an event feed for observers.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// FileName is the file name as submitted by the caller.
	FileName string

	// TargetPath is the on-disk file this session analyzes and patches.
	TargetPath string

	// Source is the snapshot taken at extraction time. Tasks, windows,
	// and patches are all relative to this content, never the live file.
	Source []byte

	// SnapshotHash is the content hash of Source.
	SnapshotHash string

	// CreatedAt is when the session was opened.
	CreatedAt time.Time

	// applyMu serializes disk commits for this session.
	applyMu sync.Mutex

	mu           sync.RWMutex
	status       SessionStatus
	tasks        []*task.Task
	byID         map[string]*task.Task
	expectedHash string

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewSession builds a session over a snapshot and its extracted
// violations. Tasks are created in ascending line order, which is also
// the commit order for batch applies.
func NewSession(fileName, targetPath string, source []byte, snapshotHash string, violations []analyzer.Violation) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		FileName:     fileName,
		TargetPath:   targetPath,
		Source:       source,
		SnapshotHash: snapshotHash,
		CreatedAt:    time.Now().UTC(),
		status:       SessionRunning,
		byID:         make(map[string]*task.Task),
		subs:         make(map[int]chan Event),
	}

	sorted := make([]analyzer.Violation, len(violations))
	copy(sorted, violations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].RuleID < sorted[j].RuleID
	})

	for _, v := range sorted {
		t := task.New(v, snapshotHash)
		s.tasks = append(s.tasks, t)
		s.byID[t.ID] = t
	}
	return s
}

// Status returns the session lifecycle position.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(st SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Closed reports whether the session stopped accepting actions.
func (s *Session) Closed() bool {
	return s.Status() == SessionClosed
}

// Tasks returns the session's tasks in ascending violation line order.
func (s *Session) Tasks() []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Task looks up a task by ID.
func (s *Session) Task(id string) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	return t, ok
}

// Violations returns the violations the session's tasks were built from.
func (s *Session) Violations() []analyzer.Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]analyzer.Violation, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Violation)
	}
	return out
}

// setExpectedHash records the hash the aggregator is about to write so
// the watcher can tell the pipeline's own rename from an external edit.
func (s *Session) setExpectedHash(h string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedHash = h
}

// consumeExpectedHash reports whether h matches the pending self-write
// and clears the record when it does.
func (s *Session) consumeExpectedHash(h string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expectedHash != "" && s.expectedHash == h {
		s.expectedHash = ""
		return true
	}
	return false
}

// InvalidateNonTerminal fails every task that has not yet terminated,
// recording reason. Used when the target file changes underneath the
// session, either by an external edit or by a sibling task's apply.
func (s *Session) InvalidateNonTerminal(sm *task.StateMachine, reason string, except ...string) int {
	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}

	invalidated := 0
	for _, t := range s.Tasks() {
		if skip[t.ID] || t.Status().IsTerminal() {
			continue
		}
		t.SetFailure(reason)
		if err := sm.Transition(t, task.StatusFailed); err != nil {
			continue
		}
		invalidated++
		s.Publish(t)
	}
	if invalidated > 0 {
		if err := initMetrics(); err == nil {
			staleDetections.Add(context.Background(), int64(invalidated))
		}
	}
	return invalidated
}

// Subscribe registers an event listener. The returned cancel function
// must be called to release the subscription.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Event, eventBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish fans a task's current view out to subscribers. Events to a
// full subscriber channel are dropped.
func (s *Session) Publish(t *task.Task) {
	ev := Event{SessionID: s.ID, Task: t.View(), At: time.Now().UTC()}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeSubscribers tears down the event feed when the session ends.
func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Summary is the JSON-friendly session listing for the gateway.
type Summary struct {
	ID           string        `json:"id"`
	FileName     string        `json:"fileName"`
	Status       SessionStatus `json:"status"`
	SnapshotHash string        `json:"snapshotHash"`
	TaskCount    int           `json:"taskCount"`
	Validated    int           `json:"validated"`
	Applied      int           `json:"applied"`
	Failed       int           `json:"failed"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Summarize counts task statuses for listings.
func (s *Session) Summarize() Summary {
	sum := Summary{
		ID:           s.ID,
		FileName:     s.FileName,
		Status:       s.Status(),
		SnapshotHash: s.SnapshotHash,
		CreatedAt:    s.CreatedAt,
	}
	for _, t := range s.Tasks() {
		sum.TaskCount++
		switch t.Status() {
		case task.StatusValidated:
			sum.Validated++
		case task.StatusApplied:
			sum.Applied++
		case task.StatusFailed, task.StatusRejected:
			sum.Failed++
		}
	}
	return sum
}

// Store is an in-memory session registry.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get retrieves a session by ID.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Put stores a session.
func (s *Store) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List returns all sessions, newest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// FindTask searches every session for a task ID.
func (s *Store) FindTask(taskID string) (*Session, *task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if t, ok := session.Task(taskID); ok {
			return session, t, true
		}
	}
	return nil, nil, false
}
