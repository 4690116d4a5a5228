// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type Client struct {
	storageClient *storage.Client
	BucketName    string
}

// NewClient builds a GCS client for the given bucket. An empty saKeyPath
// falls back to application default credentials, which also covers public
// buckets on workstations with gcloud configured.
func NewClient(ctx context.Context, bucketName, saKeyPath string) (*Client, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		BucketName:    bucketName,
	}, nil
}

// ObjectSize returns the size in bytes of a GCS object.
func (c *Client) ObjectSize(ctx context.Context, gcsPath string) (int64, error) {
	attrs, err := c.storageClient.Bucket(c.BucketName).Object(gcsPath).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to stat GCS object %s: %w", gcsPath, err)
	}
	return attrs.Size, nil
}

// DownloadFile streams a GCS object into localPath. The download goes
// through a .partial file and renames into place so a killed transfer
// never leaves a truncated artifact behind.
func (c *Client) DownloadFile(ctx context.Context, gcsPath, localPath string) error {
	obj := c.storageClient.Bucket(c.BucketName).Object(gcsPath)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open GCS object %s: %w", gcsPath, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create the local directory for %s: %w", localPath, err)
	}

	partial := localPath + ".partial"
	localFile, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create the local file %s: %w", partial, err)
	}

	if _, err := io.Copy(localFile, reader); err != nil {
		localFile.Close()
		os.Remove(partial)
		return fmt.Errorf("failed to copy GCS object %s to %s: %w", gcsPath, localPath, err)
	}
	if err := localFile.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to close the local file %s: %w", partial, err)
	}

	if err := os.Rename(partial, localPath); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to move the download into place at %s: %w", localPath, err)
	}
	fmt.Printf("Successfully downloaded gs://%s/%s to %s\n", c.BucketName, gcsPath, localPath)
	return nil
}

func (c *Client) Close() error {
	return c.storageClient.Close()
}
