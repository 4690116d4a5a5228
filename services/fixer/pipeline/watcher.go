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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/MisraFix/pkg/logging"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
)

// Watcher invalidates a session when its target file changes outside the
// pipeline's own apply path.
//
// The watch is on the parent directory, not the file: the aggregator
// replaces the file by rename, which would silently detach a direct file
// watch. Events are matched back to the target by name and classified by
// re-hashing the content, so the pipeline's own atomic writes are
// recognized and skipped.
//
// Thread Safety: Safe for concurrent use.
type Watcher struct {
	session *Session
	sm      *task.StateMachine
	logger  *logging.Logger
	fsw     *fsnotify.Watcher
	target  string

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching the session's target file.
func NewWatcher(s *Session, sm *task.StateMachine, logger *logging.Logger) (*Watcher, error) {
	if sm == nil {
		sm = task.DefaultStateMachine
	}
	if logger == nil {
		logger = logging.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	target := filepath.Clean(s.TargetPath)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	w := &Watcher{
		session: s,
		sm:      sm,
		logger:  logger,
		fsw:     fsw,
		target:  target,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if w.handleChange() {
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "session_id", w.session.ID, "error", err)
		}
	}
}

// handleChange classifies a change to the target file. Returns true when
// the watcher has nothing left to guard.
func (w *Watcher) handleChange() bool {
	live, err := os.ReadFile(w.target)
	if err != nil {
		w.invalidate(fmt.Sprintf("%v: %s is no longer readable: %v", ErrStaleContext, w.session.FileName, err))
		return true
	}

	hash := window.SnapshotHash(live)
	if w.session.consumeExpectedHash(hash) {
		// Our own apply; the aggregator already settled the session.
		return false
	}
	if hash == w.session.SnapshotHash {
		// Rewritten with identical content; windows and hunks still hold.
		return false
	}

	w.invalidate(fmt.Sprintf("%v: %s was modified outside the remediation session", ErrStaleContext, w.session.FileName))
	return true
}

func (w *Watcher) invalidate(reason string) {
	n := w.session.InvalidateNonTerminal(w.sm, reason)
	w.session.setStatus(SessionClosed)
	w.logger.Warn("session invalidated by external file change",
		"session_id", w.session.ID,
		"file", w.session.TargetPath,
		"tasks_invalidated", n,
	)
}
