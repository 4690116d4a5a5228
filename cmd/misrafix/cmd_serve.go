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
	"os"
	"time"

	"github.com/AleutianAI/MisraFix/cmd/misrafix/config"
	"github.com/AleutianAI/MisraFix/pkg/ux"
	"github.com/AleutianAI/MisraFix/services/gateway"
	"github.com/spf13/cobra"
)

// runServe starts the review gateway in-process using the misrafix
// config file, with environment variables taking precedence the same
// way the containerized entry point honors them.
func runServe(cmd *cobra.Command, args []string) {
	cfg := serveConfig()

	ux.Title("MisraFix Gateway")
	ux.Info(fmt.Sprintf("Review UI on http://localhost:%d/ui/index.html", cfg.Port))
	ux.Muted("Press Ctrl+C to stop")

	svc, err := gateway.New(cfg)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to create the gateway: %v", err))
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		ux.Error(fmt.Sprintf("Gateway error: %v", err))
		os.Exit(1)
	}
}

// serveConfig maps the loaded file config onto the gateway config.
// The --port flag wins over the file; OTEL_EXPORTER_OTLP_ENDPOINT is
// env-only because it is a deployment concern, not a user preference.
func serveConfig() gateway.Config {
	g := config.Global

	port := g.Gateway.Port
	if servePort > 0 {
		port = servePort
	}

	return gateway.Config{
		Port:            port,
		LLMBackend:      g.LLM.Backend,
		LLMBaseURL:      g.LLM.BaseURL,
		Model:           g.LLM.Model,
		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		UploadLimitKB:   g.Gateway.UploadLimitKB,
		RateLimitRPS:    g.Gateway.RateLimitRPS,
		CppcheckBinary:  g.Analyzer.Binary,
		AnalyzerTimeout: time.Duration(g.Analyzer.TimeoutSeconds) * time.Second,
		MaxRetries:      g.Pipeline.MaxRetries,
		WidenStep:       g.Pipeline.WidenStep,
		ContextRadius:   g.Pipeline.ContextRadius,
		TokenBudget:     g.Pipeline.TokenBudget,
		RequestTimeout:  time.Duration(g.LLM.TimeoutSeconds) * time.Second,
	}
}
