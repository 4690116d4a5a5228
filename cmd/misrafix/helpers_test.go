// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"github.com/AleutianAI/MisraFix/cmd/misrafix/config"
)

// =============================================================================
// ANALYZER CONSTRUCTION TESTS
// =============================================================================

func TestNewAnalyzerRunner(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AnalyzerConfig
	}{
		{"defaults", config.AnalyzerConfig{}},
		{"custom binary and timeout", config.AnalyzerConfig{
			Binary:         "/opt/cppcheck/bin/cppcheck",
			TimeoutSeconds: 30,
			ExtraArgs:      []string{"--platform=unix64"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runner := newAnalyzerRunner(tt.cfg); runner == nil {
				t.Fatal("newAnalyzerRunner returned nil")
			}
		})
	}
}

// =============================================================================
// LLM CLIENT CONSTRUCTION TESTS
// =============================================================================

func TestNewLLMClient(t *testing.T) {
	// Constructors only build structs; nothing here talks to a backend.
	tests := []struct {
		name       string
		cfg        config.LLMConfig
		wantErr    bool
		wantCloser bool
	}{
		{
			name: "llamacpp with base url",
			cfg:  config.LLMConfig{Backend: "llamacpp", BaseURL: "http://localhost:8081"},
		},
		{
			name:    "llamacpp without base url fails",
			cfg:     config.LLMConfig{Backend: "llamacpp"},
			wantErr: true,
		},
		{
			name: "ollama with model",
			cfg:  config.LLMConfig{Backend: "ollama", Model: "codellama:7b-instruct"},
		},
		{
			name:    "ollama without model fails",
			cfg:     config.LLMConfig{Backend: "ollama"},
			wantErr: true,
		},
		{
			name:       "openai compat",
			cfg:        config.LLMConfig{Backend: "openai", BaseURL: "http://localhost:8000/v1", Model: "served-model"},
			wantCloser: true,
		},
		{
			name: "unknown backend falls back to llamacpp",
			cfg:  config.LLMConfig{Backend: "mystery", BaseURL: "http://localhost:8081"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLM_SERVICE_URL_BASE", "")

			client, closer, err := newLLMClient(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLLMClient failed: %v", err)
			}
			if client == nil {
				t.Fatal("newLLMClient returned a nil client")
			}
			if tt.wantCloser != (closer != nil) {
				t.Errorf("closer presence = %v, want %v", closer != nil, tt.wantCloser)
			}
			if closer != nil {
				closer()
			}
		})
	}
}

// =============================================================================
// GENERATION PARAMETER TESTS
// =============================================================================

func TestGenerationParams(t *testing.T) {
	p := generationParams(config.LLMConfig{Temperature: 0.3, MaxTokens: 256})

	if len(p.Stop) == 0 {
		t.Error("Expected the template stop sequences to be set")
	}
	if p.Temperature == nil || *p.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", p.Temperature)
	}
	if p.MaxTokens == nil || *p.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v, want 256", p.MaxTokens)
	}
}

func TestGenerationParams_ZeroConfigLeavesDefaults(t *testing.T) {
	p := generationParams(config.LLMConfig{})

	if p.Temperature != nil {
		t.Errorf("Temperature should be unset, got %v", *p.Temperature)
	}
	if p.MaxTokens != nil {
		t.Errorf("MaxTokens should be unset, got %v", *p.MaxTokens)
	}
	if len(p.Stop) == 0 {
		t.Error("Stop sequences must be set even with a zero config")
	}
}
