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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/MisraFix/cmd/misrafix/config"
	"github.com/AleutianAI/MisraFix/pkg/ux"
	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/prompt"
	"github.com/AleutianAI/MisraFix/services/llm"
)

// newAnalyzerRunner builds a cppcheck runner from the analyzer section of
// the config file.
func newAnalyzerRunner(cfg config.AnalyzerConfig) *analyzer.Runner {
	var opts []analyzer.Option
	if cfg.Binary != "" {
		opts = append(opts, analyzer.WithBinary(cfg.Binary))
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, analyzer.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	if len(cfg.ExtraArgs) > 0 {
		opts = append(opts, analyzer.WithExtraArgs(cfg.ExtraArgs...))
	}
	return analyzer.NewRunner(opts...)
}

// newLLMClient builds the configured inference backend. The returned
// close function is nil for backends with nothing to release.
func newLLMClient(cfg config.LLMConfig) (llm.LLMClient, func(), error) {
	var (
		client llm.LLMClient
		closer func()
		err    error
	)
	switch cfg.Backend {
	case "llamacpp":
		client, err = llm.NewLocalLlamaCppClient(cfg.BaseURL)
	case "openai":
		oc, ocErr := llm.NewOpenAICompatClient(cfg.BaseURL, cfg.Model, cfg.APIKeyEnclave())
		if ocErr == nil {
			closer = oc.Close
		}
		client, err = oc, ocErr
	case "ollama":
		client, err = llm.NewOllamaClient(cfg.BaseURL, cfg.Model)
	default:
		slog.Warn("Unknown LLM backend, defaulting to llamacpp", "backend", cfg.Backend)
		client, err = llm.NewLocalLlamaCppClient(cfg.BaseURL)
	}
	if err != nil {
		return nil, nil, err
	}
	return client, closer, nil
}

// generationParams translates the llm config section into sampling knobs.
func generationParams(cfg config.LLMConfig) *llm.GenerationParams {
	p := &llm.GenerationParams{Stop: prompt.StopSequences}
	if cfg.Temperature > 0 {
		p.Temperature = llm.Float32Ptr(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		p.MaxTokens = llm.IntPtr(cfg.MaxTokens)
	}
	return p
}

// newSpinnerForFiles builds the analysis spinner message.
func newSpinnerForFiles(files []string) *ux.Spinner {
	noun := "files"
	if len(files) == 1 {
		noun = "file"
	}
	return ux.NewSpinner(fmt.Sprintf("Running cppcheck over %d %s", len(files), noun))
}
