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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global MisraFixConfig
	once   sync.Once
)

// configHeader is prepended to the file written on first run.
const configHeader = `# MisraFix configuration.
# Generated with defaults on first run. Edit freely; delete to regenerate.
`

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return loadFrom(filepath.Join(home, ".misrafix", "misrafix.yaml"))
}

func loadFrom(path string) error {
	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf(" First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file %w", err)
	}
	// parse the config in to the Global struct
	if err = yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("failed to parse the config into the Global singleton: %w", err)
	}
	applyEnvOverrides()
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(configHeader), data...), 0644)
}

// applyEnvOverrides lets the container-style environment variables win
// over the file so the CLI and the service binary agree on settings.
func applyEnvOverrides() {
	if v := os.Getenv("MISRAFIX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			Global.Gateway.Port = port
		}
	}
	if v := os.Getenv("LLM_SERVICE_URL_BASE"); v != "" {
		Global.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_BACKEND_TYPE"); v != "" {
		Global.LLM.Backend = v
	}
}
