// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Shared fixtures for the handler tests: a scripted LLM, a stub
// analyzer, and a fully wired pipeline manager behind a gin router.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/fixer/prompt"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
	"github.com/AleutianAI/MisraFix/services/llm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sampleSource = `#include <stdint.h>

int add(int a, int b)
{
    return a + b;
}

int main(void)
{
    int x = add(1, 2);
    return x;
}
`

// goodDiff fixes the missing-declaration finding by making add static.
const goodDiff = "```diff\n" +
	"--- a/motor.c\n" +
	"+++ b/motor.c\n" +
	"@@ -1,5 +1,5 @@\n" +
	" #include <stdint.h>\n" +
	" \n" +
	"-int add(int a, int b)\n" +
	"+static int add(int a, int b)\n" +
	" {\n" +
	"     return a + b;\n" +
	"```\n"

type fakeLLM struct {
	mu     sync.Mutex
	script []func() (string, error)
}

var _ llm.LLMClient = (*fakeLLM)(nil)

// Generate pops the next scripted reply; the last reply repeats.
func (f *fakeLLM) Generate(_ context.Context, _ string, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return "", llm.ErrEmptyResponse
	}
	next := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return next()
}

func respond(s string) func() (string, error) {
	return func() (string, error) { return s, nil }
}

type fakeAnalyzer struct {
	mu sync.Mutex
	fn func(content []byte) ([]analyzer.Violation, error)
}

var _ analyzer.Analyzer = (*fakeAnalyzer)(nil)

func (f *fakeAnalyzer) Analyze(ctx context.Context, filePath string) ([]analyzer.Violation, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return f.AnalyzeContent(ctx, data, filePath)
}

func (f *fakeAnalyzer) AnalyzeContent(_ context.Context, content []byte, _ string) ([]analyzer.Violation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fn(content)
}

func declViolation() analyzer.Violation {
	return analyzer.Violation{
		ID:       "v-gw-1",
		FilePath: "motor.c",
		Line:     3,
		Column:   1,
		RuleID:   "misra-c2012-8.4",
		Severity: analyzer.SeverityStyle,
		Message:  "function has no prior declaration",
	}
}

// declAnalyzer reports the missing-declaration finding until the fix
// lands in the content.
func declAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{fn: func(content []byte) ([]analyzer.Violation, error) {
		if bytes.Contains(content, []byte("static int add")) {
			return nil, nil
		}
		return []analyzer.Violation{declViolation()}, nil
	}}
}

// testEnv wires the full pipeline behind the gateway routes, the same
// way service initialization does.
type testEnv struct {
	manager *pipeline.Manager
	store   *pipeline.Store
	router  *gin.Engine
}

func newTestEnv(t *testing.T, fa *fakeAnalyzer, fl *fakeLLM) *testEnv {
	t.Helper()

	store := pipeline.NewStore()
	coordinator := pipeline.NewCoordinator(
		window.NewBuilder(),
		prompt.NewComposer(),
		llm.NewLane(fl),
		patch.NewValidator(fa),
		pipeline.WithTransitionHook(func(tk *task.Task) {
			if s, _, ok := store.FindTask(tk.ID); ok {
				s.Publish(tk)
			}
		}),
	)
	manager := pipeline.NewManager(fa, coordinator, pipeline.NewAggregator(),
		pipeline.WithStore(store),
		pipeline.WithWorkspaceRoot(t.TempDir()),
		pipeline.WithStaleWatcher(false),
	)
	t.Cleanup(manager.Shutdown)

	router := gin.New()
	router.POST("/v1/sessions", CreateSession(manager, 0))
	router.GET("/v1/sessions", ListSessions(manager))
	router.GET("/v1/sessions/:id", GetSession(manager))
	router.GET("/v1/sessions/:id/tasks", GetSessionTasks(manager))
	router.GET("/v1/sessions/:id/events", StreamSessionEvents(manager))
	router.POST("/v1/sessions/:id/apply", ApplySession(manager))
	router.DELETE("/v1/sessions/:id", DeleteSession(manager))
	router.GET("/v1/tasks/:id/patch", GetTaskPatch(manager))
	router.POST("/v1/tasks/:id/accept", AcceptTask(manager))
	router.POST("/v1/tasks/:id/reject", RejectTask(manager))

	return &testEnv{manager: manager, store: store, router: router}
}

// jsonString quotes s as a JSON string literal.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// do runs one request through the router and returns the recorder.
func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// upload creates a session over sampleSource and returns it.
func (e *testEnv) upload(t *testing.T) *pipeline.Session {
	t.Helper()
	w := e.do(http.MethodPost, "/v1/sessions",
		`{"filename":"motor.c","content":`+jsonString(sampleSource)+`}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload returned %d: %s", w.Code, w.Body.String())
	}
	sessions := e.manager.Sessions()
	if len(sessions) == 0 {
		t.Fatal("no session registered after upload")
	}
	return sessions[0]
}

// waitForTaskStatus polls until some task in the session reaches the
// wanted status.
func waitForTaskStatus(t *testing.T, s *pipeline.Session, want task.Status) task.View {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, tk := range s.Tasks() {
			if tk.Status() == want {
				return tk.View()
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no task reached %s within deadline", want)
	return task.View{}
}

// waitForSessionStatus polls until the session reaches the wanted
// lifecycle status.
func waitForSessionStatus(t *testing.T, s *pipeline.Session, want pipeline.SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session stuck in %s, want %s", s.Status(), want)
}
