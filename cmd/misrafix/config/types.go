// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
)

type MisraFixConfig struct {
	// Analyzer: how cppcheck is invoked
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// LLM: which inference backend proposes the fixes
	LLM LLMConfig `yaml:"llm"`

	// Pipeline: retry and context-window tuning
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Gateway: the review server and web UI
	Gateway GatewayConfig `yaml:"gateway"`

	// ModelStore: where the GGUF artifact lives and where it comes from
	ModelStore ModelStoreConfig `yaml:"model_store"`

	// Logging: level and destinations
	Logging LoggingConfig `yaml:"logging"`
}

type AnalyzerConfig struct {
	Binary         string   `yaml:"binary"`          // e.g. cppcheck or /opt/cppcheck/bin/cppcheck
	TimeoutSeconds int      `yaml:"timeout_seconds"` // per-file analysis bound
	ExtraArgs      []string `yaml:"extra_args"`      // appended verbatim to every run
}

type LLMConfig struct {
	// Backend can be "llamacpp", "openai", or "ollama".
	Backend string `yaml:"backend"`
	BaseURL string `yaml:"base_url,omitempty"`

	// Model names the served model for the openai and ollama backends.
	// The llamacpp backend serves whatever model the server was started with.
	Model          string  `yaml:"model,omitempty"`
	ContextLength  int     `yaml:"context_length"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`

	// APIKeyEnv names the environment variable holding the API key for
	// the openai backend. The key itself never lands in this file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

type PipelineConfig struct {
	MaxRetries    int `yaml:"max_retries"`    // generation attempts per violation
	ContextRadius int `yaml:"context_radius"` // fallback window lines around the violation
	TokenBudget   int `yaml:"token_budget"`   // context window token cap
	WidenStep     int `yaml:"widen_step"`     // lines added to the window per retry
}

type GatewayConfig struct {
	Port          int     `yaml:"port"`            // e.g. 7860
	UploadLimitKB int     `yaml:"upload_limit_kb"` // per-upload size cap
	RateLimitRPS  float64 `yaml:"rate_limit_rps"`  // per-client API rate limit
}

type ModelStoreConfig struct {
	Dir       string `yaml:"dir"`
	SourceURL string `yaml:"source_url,omitempty"`
	GCSBucket string `yaml:"gcs_bucket,omitempty"`
	GCSObject string `yaml:"gcs_object,omitempty"`
	MinFreeGB int    `yaml:"min_free_gb"`

	// SHA256 and SizeBytes, when set, are verified after every download
	// and reported by `misrafix model status`.
	SHA256    string `yaml:"sha256,omitempty"`
	SizeBytes int64  `yaml:"size_bytes,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`         // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"` // enables file logging when set
	JSON  bool   `yaml:"json"`
}

// APIKeyEnclave seals the configured API key environment variable into a
// memguard enclave so the plaintext key is not left sitting in ordinary
// heap memory. Returns nil when the variable is unset or empty.
func (c LLMConfig) APIKeyEnclave() *memguard.Enclave {
	name := c.APIKeyEnv
	if name == "" {
		name = "OPENAI_API_KEY"
	}
	key := os.Getenv(name)
	if key == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(key))
}

func DefaultConfig() MisraFixConfig {
	// The model store defaults under the same dot-directory as the config
	// file itself.
	modelDir := "models"
	if home, err := os.UserHomeDir(); err == nil {
		modelDir = filepath.Join(home, ".misrafix", "models")
	}
	return MisraFixConfig{
		Analyzer: AnalyzerConfig{
			Binary:         "cppcheck",
			TimeoutSeconds: 120,
			ExtraArgs:      []string{},
		},
		LLM: LLMConfig{
			Backend:        "llamacpp",
			BaseURL:        "",
			Model:          "",
			ContextLength:  2048,
			MaxTokens:      512,
			Temperature:    0.2,
			TimeoutSeconds: 120,
			APIKeyEnv:      "OPENAI_API_KEY",
		},
		Pipeline: PipelineConfig{
			MaxRetries:    2,
			ContextRadius: 10,
			TokenBudget:   1536,
			WidenStep:     10,
		},
		Gateway: GatewayConfig{
			Port:          7860,
			UploadLimitKB: 512,
			RateLimitRPS:  20,
		},
		ModelStore: ModelStoreConfig{
			Dir:       modelDir,
			SourceURL: "https://huggingface.co/TheBloke/CodeLlama-7B-Instruct-GGUF/resolve/main/codellama-7b-instruct.Q4_K_M.gguf",
			MinFreeGB: 8,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
			JSON:  false,
		},
	}
}
