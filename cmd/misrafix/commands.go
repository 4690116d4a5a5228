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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	plainOutput bool
	checkJSON   bool
	checkQuiet  bool
	fixYes      bool
	fixDryRun   bool
	servePort   int
	modelForce  bool

	rootCmd = &cobra.Command{
		Use:   "misrafix",
		Short: "A cli to find and fix MISRA C/C++ violations with a local LLM",
		Long: `MisraFix runs cppcheck's MISRA checks over C/C++ sources and drives
				a local language model to propose unified-diff fixes, each one
				re-verified by the analyzer before anything touches your files.`,
	}

	// --- Analysis ---
	checkCmd = &cobra.Command{
		Use:   "check [files or directories...]",
		Short: "Run the MISRA analyzer and list violations",
		Args:  cobra.MinimumNArgs(1),
		Run:   runCheck, // Defined in cmd_check.go
	}

	fixCmd = &cobra.Command{
		Use:   "fix [files...]",
		Short: "Generate, review, and apply LLM patches for MISRA violations",
		Args:  cobra.MinimumNArgs(1),
		Run:   runFix, // Defined in cmd_fix.go
	}

	// --- Gateway ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the review gateway and web UI",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Model Store ---
	modelCmd = &cobra.Command{
		Use:   "model",
		Short: "Manage the local GGUF model artifact",
	}
	modelFetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Download the model artifact into the model store",
		Run:   runModelFetch, // Defined in cmd_model.go
	}
	modelStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report the model artifact's presence, size, and hash",
		Run:   runModelStatus, // Defined in cmd_model.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the misrafix version",
		Run:   runVersion, // Defined in cmd_version.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Disable colors and spinners (for scripts and CI)")

	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output as JSON")
	checkCmd.Flags().BoolVar(&checkQuiet, "quiet", false, "Only exit code, no output")

	rootCmd.AddCommand(fixCmd)
	fixCmd.Flags().BoolVarP(&fixYes, "yes", "y", false,
		"Apply every validated patch without prompting")
	fixCmd.Flags().BoolVar(&fixDryRun, "dry-run", false,
		"Print validated diffs without touching any file")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the configured gateway port")

	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelFetchCmd)
	modelFetchCmd.Flags().BoolVar(&modelForce, "force", false,
		"Re-download even if the artifact is already present")
	modelCmd.AddCommand(modelStatusCmd)

	rootCmd.AddCommand(versionCmd)
}
