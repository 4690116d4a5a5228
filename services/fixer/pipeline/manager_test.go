// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/prompt"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
	"github.com/AleutianAI/MisraFix/services/llm"
)

// probeLLM answers every prompt with goodDiff and records how many
// generations ran at once. The sleep keeps each call on the lane long
// enough for a second caller to pile up behind it.
type probeLLM struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     int
}

var _ llm.LLMClient = (*probeLLM)(nil)

func (p *probeLLM) Generate(_ context.Context, _ string, _ *llm.GenerationParams) (string, error) {
	p.mu.Lock()
	p.active++
	p.calls++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	time.Sleep(3 * time.Millisecond)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return goodDiff, nil
}

func (p *probeLLM) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

func (p *probeLLM) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// twoFindingAnalyzer reports two violations inside add until the fix
// lands in the content.
func twoFindingAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{fn: func(content []byte) ([]analyzer.Violation, error) {
		if bytes.Contains(content, []byte("static int add")) {
			return nil, nil
		}
		return []analyzer.Violation{
			declViolation(),
			{
				ID:       "v-extract-2",
				FilePath: "src/calc.c",
				Line:     5,
				Column:   12,
				RuleID:   "misra-c2012-10.3",
				Severity: analyzer.SeverityStyle,
				Message:  "composite expression assigned to a wider essential type",
			},
		}, nil
	}}
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calc.c")
	if err := os.WriteFile(path, []byte(sampleSource), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestManagerOpenCleanFileClosesSession(t *testing.T) {
	fa := &fakeAnalyzer{fn: func([]byte) ([]analyzer.Violation, error) { return nil, nil }}
	m := NewManager(fa, newTestCoordinator(&fakeLLM{}, fa), NewAggregator(), WithStaleWatcher(false))
	defer m.Shutdown()

	path := writeSample(t)
	s, err := m.Open(context.Background(), "calc.c", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.Status(); got != SessionClosed {
		t.Fatalf("status = %s, want closed", got)
	}
	if n := len(s.Tasks()); n != 0 {
		t.Fatalf("clean file produced %d tasks", n)
	}

	// The closed session stays listed for reporting.
	if _, err := m.Session(s.ID); err != nil {
		t.Fatalf("Session after clean open: %v", err)
	}
}

func TestManagerOpenMissingFile(t *testing.T) {
	fa := declAnalyzer()
	m := NewManager(fa, newTestCoordinator(&fakeLLM{}, fa), NewAggregator(), WithStaleWatcher(false))
	defer m.Shutdown()

	if _, err := m.Open(context.Background(), "calc.c", filepath.Join(t.TempDir(), "absent.c")); err == nil {
		t.Fatal("Open succeeded on a missing file")
	}
}

func TestManagerRunSessionsShareOneInferenceLane(t *testing.T) {
	probe := &probeLLM{}
	fa := twoFindingAnalyzer()
	c := NewCoordinator(
		window.NewBuilder(),
		prompt.NewComposer(),
		llm.NewLane(probe),
		patch.NewValidator(fa),
	)
	m := NewManager(fa, c, NewAggregator(), WithStaleWatcher(false))
	defer m.Shutdown()

	path1 := writeSample(t)
	path2 := writeSample(t)
	s1, err := m.Open(context.Background(), "src/calc.c", path1)
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	s2, err := m.Open(context.Background(), "src/calc.c", path2)
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	if len(s1.Tasks()) != 2 || len(s2.Tasks()) != 2 {
		t.Fatalf("tasks = %d and %d, want 2 each", len(s1.Tasks()), len(s2.Tasks()))
	}

	var wg sync.WaitGroup
	for _, s := range []*Session{s1, s2} {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Run(context.Background(), s); err != nil {
				t.Errorf("Run(%s): %v", s.ID, err)
			}
		}()
	}
	wg.Wait()

	if got := probe.MaxActive(); got != 1 {
		t.Fatalf("concurrent generations = %d, want 1", got)
	}
	if got := probe.Calls(); got != 4 {
		t.Fatalf("model called %d times, want 4", got)
	}
	for _, s := range []*Session{s1, s2} {
		if got := s.Status(); got != SessionReview {
			t.Fatalf("session %s status = %s, want review", s.ID, got)
		}
		for _, tk := range s.Tasks() {
			if got := tk.Status(); got != task.StatusValidated {
				t.Fatalf("task %s status = %s, want Validated (failure: %s)", tk.ID, got, tk.Failure())
			}
		}
	}

	// Both fixes rewrite the same lines, so a batch commit lands one
	// patch and retires the other as stale.
	report, err := m.ApplyAll(context.Background(), s1.ID)
	if err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	if report.Applied != 1 || report.Stale != 1 {
		t.Fatalf("report = %+v, want 1 applied / 1 stale", report)
	}
	disk, err := os.ReadFile(path1)
	if err != nil {
		t.Fatalf("read patched file: %v", err)
	}
	if !bytes.Contains(disk, []byte("static int add")) {
		t.Fatalf("fix missing from disk:\n%s", disk)
	}
	if !s1.Closed() {
		t.Fatalf("session %s still %s after batch apply", s1.ID, s1.Status())
	}

	// The sibling session is untouched by the first one's commit.
	if got := s2.Status(); got != SessionReview {
		t.Fatalf("sibling session status = %s, want review", got)
	}
}

func TestManagerStartUploadStagesWorkspace(t *testing.T) {
	fa := &fakeAnalyzer{fn: func([]byte) ([]analyzer.Violation, error) { return nil, nil }}
	m := NewManager(fa, newTestCoordinator(&fakeLLM{}, fa), NewAggregator(),
		WithStaleWatcher(false),
		WithWorkspaceRoot(t.TempDir()),
	)
	defer m.Shutdown()

	s, err := m.StartUpload(context.Background(), "nested/clean.c", []byte(sampleSource))
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	if s.FileName != "clean.c" {
		t.Fatalf("file name = %q, want base name clean.c", s.FileName)
	}
	staged, err := os.ReadFile(s.TargetPath)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if !bytes.Equal(staged, []byte(sampleSource)) {
		t.Fatal("staged content differs from upload")
	}

	dir := filepath.Dir(s.TargetPath)
	if err := m.Remove(s.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Session(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Session after remove = %v, want ErrSessionNotFound", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workspace %s survived removal: %v", dir, err)
	}
}

func TestManagerStartUploadRejectsBadNames(t *testing.T) {
	fa := &fakeAnalyzer{fn: func([]byte) ([]analyzer.Violation, error) { return nil, nil }}
	m := NewManager(fa, newTestCoordinator(&fakeLLM{}, fa), NewAggregator(),
		WithStaleWatcher(false),
		WithWorkspaceRoot(t.TempDir()),
	)
	defer m.Shutdown()

	for _, name := range []string{"", "."} {
		if _, err := m.StartUpload(context.Background(), name, []byte(sampleSource)); err == nil {
			t.Errorf("StartUpload(%q) succeeded, want error", name)
		}
	}
}

func TestManagerRemoveUnknownSession(t *testing.T) {
	fa := declAnalyzer()
	m := NewManager(fa, newTestCoordinator(&fakeLLM{}, fa), NewAggregator(), WithStaleWatcher(false))
	defer m.Shutdown()

	if err := m.Remove("no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Remove = %v, want ErrSessionNotFound", err)
	}
}
