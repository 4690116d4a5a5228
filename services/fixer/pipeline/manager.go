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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/MisraFix/pkg/logging"
	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
)

// DefaultMaxConcurrentTasks bounds per-session fan-out for the stages
// that may run in parallel (window building, validation re-analysis).
// Inference stays serialized by the lane regardless of this value.
const DefaultMaxConcurrentTasks = 4

// Manager owns the remediation sessions: it extracts violations, runs
// the coordinator over the resulting tasks, guards live files with
// watchers, and routes review decisions to the aggregator.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	analyzer    analyzer.Analyzer
	coordinator *Coordinator
	aggregator  *Aggregator
	store       *Store
	sm          *task.StateMachine
	logger      *logging.Logger

	maxConcurrent int
	watchFiles    bool
	workspaceRoot string

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	watchers   map[string]*Watcher
	workspaces map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the session store.
func WithStore(store *Store) ManagerOption {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxConcurrentTasks bounds per-session task fan-out.
func WithMaxConcurrentTasks(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

// WithStaleWatcher toggles the per-session fsnotify watcher.
func WithStaleWatcher(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchFiles = enabled
	}
}

// WithWorkspaceRoot sets where upload sessions stage their files.
func WithWorkspaceRoot(dir string) ManagerOption {
	return func(m *Manager) {
		if dir != "" {
			m.workspaceRoot = dir
		}
	}
}

// NewManager creates a Manager around the pipeline pieces.
func NewManager(a analyzer.Analyzer, coordinator *Coordinator, aggregator *Aggregator, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		analyzer:      a,
		coordinator:   coordinator,
		aggregator:    aggregator,
		store:         NewStore(),
		sm:            task.DefaultStateMachine,
		logger:        logging.Default(),
		maxConcurrent: DefaultMaxConcurrentTasks,
		watchFiles:    true,
		baseCtx:       ctx,
		cancel:        cancel,
		watchers:      make(map[string]*Watcher),
		workspaces:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open extracts violations from a file on disk and builds a session over
// its snapshot. Remediation is not started; see Start and Run.
//
// Description:
//
//	fileName is the logical name recorded on violations and shown in the
//	UI; targetPath is the file read, analyzed, and eventually patched. A
//	clean extraction yields a session with zero tasks that is closed
//	immediately.
func (m *Manager) Open(ctx context.Context, fileName, targetPath string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "pipeline.open")
	defer span.End()

	source, err := os.ReadFile(targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", targetPath, err)
	}

	violations, err := m.analyzer.AnalyzeContent(ctx, source, fileName)
	if err != nil {
		return nil, fmt.Errorf("extraction failed for %s: %w", fileName, err)
	}

	s := NewSession(fileName, targetPath, source, window.SnapshotHash(source), violations)
	if len(violations) == 0 {
		s.setStatus(SessionClosed)
	}
	m.store.Put(s)

	m.logger.Info("session opened",
		"session_id", s.ID,
		"file", fileName,
		"violations", len(violations),
	)
	return s, nil
}

// StartUpload stages submitted content in a per-session workspace and
// starts background remediation over it.
func (m *Manager) StartUpload(ctx context.Context, fileName string, content []byte) (*Session, error) {
	base := filepath.Base(fileName)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file name %q", fileName)
	}

	dir, err := os.MkdirTemp(m.workspaceRoot, "misrafix-session-")
	if err != nil {
		return nil, fmt.Errorf("failed to create session workspace: %w", err)
	}
	targetPath := filepath.Join(dir, base)
	if err := os.WriteFile(targetPath, content, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to stage %s: %w", base, err)
	}

	s, err := m.Start(ctx, base, targetPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	m.mu.Lock()
	m.workspaces[s.ID] = dir
	m.mu.Unlock()
	return s, nil
}

// Start opens a session and remediates it in the background. The
// extraction itself is synchronous so the caller gets the task list.
func (m *Manager) Start(ctx context.Context, fileName, targetPath string) (*Session, error) {
	s, err := m.Open(ctx, fileName, targetPath)
	if err != nil {
		return nil, err
	}
	if len(s.Tasks()) == 0 {
		return s, nil
	}

	go func() {
		if err := m.Run(m.baseCtx, s); err != nil {
			m.logger.Warn("session run ended early", "session_id", s.ID, "error", err)
		}
	}()
	return s, nil
}

// Run drives every task in the session to rest and leaves the session in
// review. Blocks until all tasks settle; one task's failure never stops
// the others.
func (m *Manager) Run(ctx context.Context, s *Session) error {
	if err := initMetrics(); err != nil {
		return fmt.Errorf("Failed to initialize pipeline metrics: %w", err)
	}
	activeSessions.Add(context.Background(), 1)
	defer activeSessions.Add(context.Background(), -1)

	tasks := s.Tasks()
	if len(tasks) == 0 {
		return nil
	}

	if m.watchFiles {
		w, err := NewWatcher(s, m.sm, m.logger)
		if err != nil {
			m.logger.Warn("stale watcher unavailable; relying on apply-time hash check",
				"session_id", s.ID, "error", err)
		} else {
			m.mu.Lock()
			m.watchers[s.ID] = w
			m.mu.Unlock()
		}
	}

	before := s.Violations()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrent)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			return m.coordinator.Remediate(gctx, t, s.Source, before)
		})
	}
	err := g.Wait()

	if s.Status() == SessionRunning {
		s.setStatus(SessionReview)
	}
	m.logger.Info("session settled",
		"session_id", s.ID,
		"status", string(s.Status()),
	)
	return err
}

// Session returns a session by ID.
func (m *Manager) Session(id string) (*Session, error) {
	s, ok := m.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Sessions lists sessions, newest first.
func (m *Manager) Sessions() []*Session {
	return m.store.List()
}

// FindTask locates a task across sessions.
func (m *Manager) FindTask(taskID string) (*Session, *task.Task, error) {
	s, t, ok := m.store.FindTask(taskID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return s, t, nil
}

// Accept applies one task's validated patch through the aggregator.
func (m *Manager) Accept(ctx context.Context, taskID string) (task.View, error) {
	s, _, err := m.FindTask(taskID)
	if err != nil {
		return task.View{}, err
	}
	view, err := m.aggregator.Accept(ctx, s, taskID)
	if s.Closed() {
		m.stopWatcher(s.ID)
	}
	return view, err
}

// Reject declines one task's patch.
func (m *Manager) Reject(ctx context.Context, taskID string) (task.View, error) {
	s, _, err := m.FindTask(taskID)
	if err != nil {
		return task.View{}, err
	}
	return m.aggregator.Reject(ctx, s, taskID)
}

// ApplyAll batch-commits every validated patch in a session.
func (m *Manager) ApplyAll(ctx context.Context, sessionID string) (ApplyReport, error) {
	s, err := m.Session(sessionID)
	if err != nil {
		return ApplyReport{}, err
	}
	report, err := m.aggregator.ApplyAll(ctx, s)
	if s.Closed() {
		m.stopWatcher(s.ID)
	}
	return report, err
}

// Remove deletes a session, its watcher, and its staged workspace.
func (m *Manager) Remove(sessionID string) error {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	m.stopWatcher(sessionID)
	s.closeSubscribers()
	m.store.Delete(sessionID)

	m.mu.Lock()
	dir, staged := m.workspaces[sessionID]
	delete(m.workspaces, sessionID)
	m.mu.Unlock()
	if staged {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to remove session workspace", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Shutdown cancels background remediation and releases watchers and
// workspaces. Sessions stay readable for final reporting.
func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[string]*Watcher)
	workspaces := m.workspaces
	m.workspaces = make(map[string]string)
	m.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
	for id, dir := range workspaces {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to remove session workspace", "session_id", id, "error", err)
		}
	}
}

func (m *Manager) stopWatcher(sessionID string) {
	m.mu.Lock()
	w, ok := m.watchers[sessionID]
	delete(m.watchers, sessionID)
	m.mu.Unlock()
	if ok {
		w.Close()
	}
}
