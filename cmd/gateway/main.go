// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateway starts the MisraFix review HTTP server.
//
// This is the main entry point for the containerized gateway service.
// It reads configuration from environment variables and starts the
// server. For local use prefer `misrafix serve`, which shares the same
// bootstrap but reads the misrafix config file.
//
// # Environment Variables
//
//   - MISRAFIX_PORT: HTTP server port (default: 7860)
//   - LLM_BACKEND_TYPE: inference provider - llamacpp, openai, ollama (default: llamacpp)
//   - LLM_SERVICE_URL_BASE: inference server base URL (optional)
//   - LLM_MODEL: model name for the ollama and openai backends (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/MisraFix/services/gateway"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := gateway.Config{
		Port:         getEnvInt("MISRAFIX_PORT", 7860),
		LLMBackend:   getEnvString("LLM_BACKEND_TYPE", "llamacpp"),
		LLMBaseURL:   os.Getenv("LLM_SERVICE_URL_BASE"),
		Model:        os.Getenv("LLM_MODEL"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	slog.Info("Starting gateway",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"llm_base_url", cfg.LLMBaseURL,
	)

	svc, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
