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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/MisraFix/cmd/misrafix/config"
	"github.com/AleutianAI/MisraFix/cmd/misrafix/gcs"
	"github.com/AleutianAI/MisraFix/pkg/ux"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultModelArtifact is the GGUF build the prompt template and
	// stop sequences are tuned against.
	DefaultModelArtifact = "codellama-7b-instruct.Q4_K_M.gguf"

	// GB is bytes in a gigabyte.
	GB = 1024 * 1024 * 1024

	// modelFetchTimeout bounds a full artifact download.
	modelFetchTimeout = 2 * time.Hour
)

// =============================================================================
// ARTIFACT LAYOUT AND VERIFICATION
// =============================================================================

// artifactName derives the on-disk file name from the configured
// source, falling back to the default GGUF build.
func artifactName(cfg config.ModelStoreConfig) string {
	if cfg.GCSObject != "" {
		return filepath.Base(cfg.GCSObject)
	}
	if cfg.SourceURL != "" {
		if u, err := url.Parse(cfg.SourceURL); err == nil && u.Path != "" {
			if name := filepath.Base(u.Path); name != "." && name != "/" {
				return name
			}
		}
	}
	return DefaultModelArtifact
}

// modelStorePath is where the artifact lives inside the model dir.
func modelStorePath(cfg config.ModelStoreConfig) string {
	return filepath.Join(cfg.Dir, artifactName(cfg))
}

// checkFreeDisk fails when the filesystem holding dir has less than
// minFreeGB available. Zero disables the check.
func checkFreeDisk(dir string, minFreeGB int) error {
	if minFreeGB <= 0 {
		return nil
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("statfs failed for %s: %w", dir, err)
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < int64(minFreeGB)*GB {
		return fmt.Errorf("insufficient disk space in %s: %d GB free, %d GB required",
			dir, free/GB, minFreeGB)
	}
	return nil
}

// fileSHA256 returns the lowercase hex digest of a file's contents.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyArtifact checks the downloaded file against the configured
// size and digest. Unset fields are skipped.
func verifyArtifact(path string, cfg config.ModelStoreConfig) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if cfg.SizeBytes > 0 && info.Size() != cfg.SizeBytes {
		return fmt.Errorf("size mismatch for %s: have %d bytes, want %d",
			path, info.Size(), cfg.SizeBytes)
	}
	if cfg.SHA256 != "" {
		sum, err := fileSHA256(path)
		if err != nil {
			return err
		}
		if !strings.EqualFold(sum, cfg.SHA256) {
			return fmt.Errorf("sha256 mismatch for %s: have %s, want %s",
				path, sum, cfg.SHA256)
		}
	}
	return nil
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runModelStatus reports whether the artifact is present and, when a
// digest or size is configured, whether it still matches.
func runModelStatus(cmd *cobra.Command, args []string) {
	cfg := config.Global.ModelStore
	path := modelStorePath(cfg)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		ux.FileStatus(path, ux.IconPending, "not downloaded")
		ux.Info(fmt.Sprintf("Run `misrafix model fetch` to download %s", artifactName(cfg)))
		return
	}
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to stat the model artifact: %v", err))
		os.Exit(1)
	}

	ux.FileStatus(path, ux.IconSuccess, fmt.Sprintf("%.1f GB", float64(info.Size())/GB))

	if cfg.SHA256 == "" && cfg.SizeBytes == 0 {
		ux.Muted("No digest configured; set model_store.sha256 to enable verification")
		return
	}
	if err := ux.WithSpinner("Verifying the model artifact", func() error {
		return verifyArtifact(path, cfg)
	}); err != nil {
		os.Exit(1)
	}
}

// runModelFetch downloads the artifact from GCS or over HTTPS into the
// model dir, then verifies it when a digest or size is configured.
func runModelFetch(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), modelFetchTimeout)
	defer cancel()

	cfg := config.Global.ModelStore
	path := modelStorePath(cfg)

	if _, err := os.Stat(path); err == nil && !modelForce {
		ux.Success(fmt.Sprintf("Model already present at %s", path))
		ux.Muted("Use --force to download again")
		return
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		ux.Error(fmt.Sprintf("Failed to create the model directory: %v", err))
		os.Exit(1)
	}
	if err := checkFreeDisk(cfg.Dir, cfg.MinFreeGB); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	var err error
	switch {
	case cfg.GCSBucket != "" && cfg.GCSObject != "":
		err = fetchFromGCS(ctx, cfg, path)
	case cfg.SourceURL != "":
		err = fetchFromURL(ctx, cfg.SourceURL, path)
	default:
		err = fmt.Errorf("no model source configured: set model_store.source_url or model_store.gcs_bucket")
	}
	if err != nil {
		ux.Error(fmt.Sprintf("Download failed: %v", err))
		os.Exit(1)
	}

	if err := verifyArtifact(path, cfg); err != nil {
		os.Remove(path)
		ux.Error(fmt.Sprintf("Downloaded artifact failed verification: %v", err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Model ready at %s", path))
}

// =============================================================================
// DOWNLOAD SOURCES
// =============================================================================

func fetchFromGCS(ctx context.Context, cfg config.ModelStoreConfig, dest string) error {
	client, err := gcs.NewClient(ctx, cfg.GCSBucket, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if err != nil {
		return err
	}
	defer client.Close()

	return ux.WithSpinner(
		fmt.Sprintf("Downloading gs://%s/%s", cfg.GCSBucket, cfg.GCSObject),
		func() error {
			return client.DownloadFile(ctx, cfg.GCSObject, dest)
		})
}

// fetchFromURL streams the artifact over HTTPS into dest, writing to a
// .partial sibling first so an interrupted download never leaves a
// plausible-looking artifact behind.
func fetchFromURL(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s fetching %s", resp.Status, rawURL)
	}

	partial := dest + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return err
	}

	var body io.Reader = resp.Body
	var spin *ux.ProgressSpinner
	if resp.ContentLength > 0 {
		chunk := resp.ContentLength / 100
		if chunk <= 0 {
			chunk = 1
		}
		spin = ux.NewProgressSpinner(fmt.Sprintf("Downloading %s", filepath.Base(dest)), 100)
		spin.Start()
		body = io.TeeReader(resp.Body, &progressWriter{spinner: spin, chunk: chunk})
	}

	_, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if spin != nil {
		spin.Stop()
	}
	if copyErr != nil {
		os.Remove(partial)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(partial)
		return closeErr
	}
	return os.Rename(partial, dest)
}

// progressWriter advances a percent-based spinner as bytes arrive.
type progressWriter struct {
	spinner *ux.ProgressSpinner
	written int64
	chunk   int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	w.spinner.SetProgress(int(w.written / w.chunk))
	return len(p), nil
}
