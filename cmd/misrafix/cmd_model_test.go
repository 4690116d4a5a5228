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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/MisraFix/cmd/misrafix/config"
	"github.com/AleutianAI/MisraFix/pkg/ux"
)

// sha256 of the ASCII bytes "hello".
const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

// =============================================================================
// ARTIFACT LAYOUT TESTS
// =============================================================================

func TestArtifactName(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ModelStoreConfig
		want string
	}{
		{
			name: "gcs object wins",
			cfg: config.ModelStoreConfig{
				GCSObject: "models/codellama-13b.Q5_K_M.gguf",
				SourceURL: "https://example.com/other.gguf",
			},
			want: "codellama-13b.Q5_K_M.gguf",
		},
		{
			name: "url path base",
			cfg:  config.ModelStoreConfig{SourceURL: "https://example.com/repo/resolve/main/model.gguf"},
			want: "model.gguf",
		},
		{
			name: "url without a path falls back",
			cfg:  config.ModelStoreConfig{SourceURL: "https://example.com"},
			want: DefaultModelArtifact,
		},
		{
			name: "unparseable url falls back",
			cfg:  config.ModelStoreConfig{SourceURL: "://nope"},
			want: DefaultModelArtifact,
		},
		{
			name: "nothing configured falls back",
			cfg:  config.ModelStoreConfig{},
			want: DefaultModelArtifact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := artifactName(tt.cfg); got != tt.want {
				t.Errorf("artifactName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModelStorePath(t *testing.T) {
	cfg := config.ModelStoreConfig{
		Dir:       "/var/lib/misrafix/models",
		GCSObject: "artifacts/model.gguf",
	}
	want := filepath.Join("/var/lib/misrafix/models", "model.gguf")
	if got := modelStorePath(cfg); got != want {
		t.Errorf("modelStorePath() = %q, want %q", got, want)
	}
}

// =============================================================================
// VERIFICATION TESTS
// =============================================================================

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	sum, err := fileSHA256(path)
	if err != nil {
		t.Fatalf("fileSHA256 failed: %v", err)
	}
	if sum != helloSHA256 {
		t.Errorf("fileSHA256 = %s, want %s", sum, helloSHA256)
	}

	if _, err := fileSHA256(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestVerifyArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.gguf")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name    string
		cfg     config.ModelStoreConfig
		wantErr string
	}{
		{"no constraints", config.ModelStoreConfig{}, ""},
		{"size and digest match", config.ModelStoreConfig{SizeBytes: 5, SHA256: helloSHA256}, ""},
		{"digest uppercase still matches", config.ModelStoreConfig{SHA256: strings.ToUpper(helloSHA256)}, ""},
		{"size mismatch", config.ModelStoreConfig{SizeBytes: 999}, "size mismatch"},
		{"digest mismatch", config.ModelStoreConfig{SHA256: strings.Repeat("0", 64)}, "sha256 mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyArtifact(path, tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("verifyArtifact failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("verifyArtifact error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}

	if err := verifyArtifact(filepath.Join(t.TempDir(), "missing"), config.ModelStoreConfig{}); err == nil {
		t.Error("Expected an error for a missing artifact")
	}
}

func TestCheckFreeDisk(t *testing.T) {
	dir := t.TempDir()

	if err := checkFreeDisk(dir, 0); err != nil {
		t.Errorf("A zero minimum should disable the check, got %v", err)
	}

	// No filesystem has an exabyte free, so this must fail cleanly.
	if err := checkFreeDisk(dir, 1<<20); err == nil {
		t.Error("Expected an insufficient-space error for a 1M GB requirement")
	} else if !strings.Contains(err.Error(), "insufficient disk space") {
		t.Errorf("Unexpected error text: %v", err)
	}
}

// =============================================================================
// DOWNLOAD PROGRESS TESTS
// =============================================================================

func TestProgressWriter(t *testing.T) {
	spin := ux.NewProgressSpinner("Downloading", 100)
	w := &progressWriter{spinner: spin, chunk: 10}

	n, err := w.Write(make([]byte, 25))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 25 {
		t.Errorf("Write returned %d, want 25", n)
	}
	if w.written != 25 {
		t.Errorf("written = %d, want 25", w.written)
	}

	// 25 bytes over a 10 byte chunk is 2 full chunks of progress.
	if _, err := w.Write(make([]byte, 5)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if w.written != 30 {
		t.Errorf("written = %d, want 30", w.written)
	}
}
