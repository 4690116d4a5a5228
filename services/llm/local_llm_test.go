// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newFakeLlamaServer returns an httptest server that answers /completion
// with the given content and records the last decoded payload.
func newFakeLlamaServer(t *testing.T, content string) (*httptest.Server, *llamaCppPayload) {
	t.Helper()
	last := &llamaCppPayload{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(last); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(llamaCppResponse{Content: content})
	}))
	t.Cleanup(srv.Close)
	return srv, last
}

func newTestLocalClient(t *testing.T, baseURL string) *LocalLlamaCppClient {
	t.Helper()
	client, err := NewLocalLlamaCppClient(baseURL)
	if err != nil {
		t.Fatalf("NewLocalLlamaCppClient: %v", err)
	}
	return client
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewLocalLlamaCppClient_RequiresBaseURL(t *testing.T) {
	t.Setenv("LLM_SERVICE_URL_BASE", "")
	if _, err := NewLocalLlamaCppClient(""); err == nil {
		t.Fatal("expected an error when no base URL is configured")
	}
}

func TestNewLocalLlamaCppClient_EnvFallback(t *testing.T) {
	t.Setenv("LLM_SERVICE_URL_BASE", "http://model-host:7861/")
	client, err := NewLocalLlamaCppClient("")
	if err != nil {
		t.Fatalf("NewLocalLlamaCppClient: %v", err)
	}
	if client.baseURL != "http://model-host:7861" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
	}
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestLocalGenerate_DefaultsAndContent(t *testing.T) {
	srv, last := newFakeLlamaServer(t, "--- a/f.c\n+++ b/f.c\n")
	client := newTestLocalClient(t, srv.URL)

	out, err := client.Generate(context.Background(), "fix it", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(out, "--- a/f.c") {
		t.Errorf("unexpected completion: %q", out)
	}
	if last.Prompt != "fix it" {
		t.Errorf("prompt = %q", last.Prompt)
	}
	if last.NPredict != defaultMaxTokens {
		t.Errorf("n_predict = %d, want %d", last.NPredict, defaultMaxTokens)
	}
	if last.Temperature != defaultTemperature {
		t.Errorf("temperature = %v, want %v", last.Temperature, defaultTemperature)
	}
	if last.TopK != defaultTopK || last.TopP != defaultTopP {
		t.Errorf("top_k/top_p = %d/%v", last.TopK, last.TopP)
	}
	if last.Stop != nil {
		t.Errorf("stop should be omitted by default, got %v", last.Stop)
	}
}

func TestLocalGenerate_ParamOverrides(t *testing.T) {
	srv, last := newFakeLlamaServer(t, "ok")
	client := newTestLocalClient(t, srv.URL)

	params := &GenerationParams{
		Temperature: Float32Ptr(0.7),
		TopK:        IntPtr(40),
		TopP:        Float32Ptr(0.95),
		MaxTokens:   IntPtr(256),
		Stop:        []string{"[INST]"},
	}
	if _, err := client.Generate(context.Background(), "p", params); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if last.NPredict != 256 || last.Temperature != 0.7 || last.TopK != 40 || last.TopP != 0.95 {
		t.Errorf("overrides not applied: %+v", last)
	}
	if len(last.Stop) != 1 || last.Stop[0] != "[INST]" {
		t.Errorf("stop = %v", last.Stop)
	}
}

func TestLocalGenerate_EmptyContent(t *testing.T) {
	srv, _ := newFakeLlamaServer(t, "  \n ")
	client := newTestLocalClient(t, srv.URL)

	_, err := client.Generate(context.Background(), "p", nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestLocalGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client := newTestLocalClient(t, srv.URL)

	_, err := client.Generate(context.Background(), "p", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestLocalGenerate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	client := newTestLocalClient(t, srv.URL)

	_, err := client.Generate(context.Background(), "p", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestLocalGenerate_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	client := newTestLocalClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, "p", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

// =============================================================================
// Ping Tests
// =============================================================================

func TestLocalPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := newTestLocalClient(t, srv.URL)
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestLocalPing_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestLocalClient(t, srv.URL)
	if err := client.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
