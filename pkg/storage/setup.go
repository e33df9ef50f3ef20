package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	// Type is "fs" or "gcs".
	Type   string
	FsPath string
	Bucket string
	// Signer signs fs retrieval URLs; unused for gcs.
	Signer *URLSigner
}

// Setup opens the configured backend. The returned func releases it.
func Setup(ctx context.Context, cfg Config) (Storer, func(), error) {
	switch strings.ToLower(cfg.Type) {
	case "gcs":
		if cfg.Bucket == "" {
			return nil, nil, errors.New("GCS_BUCKET is not set")
		}
		g, err := NewGCS(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	case "fs", "":
		if cfg.FsPath == "" {
			return nil, nil, errors.New("fs storage needs a directory")
		}
		fs, err := NewFs(cfg.FsPath, cfg.Signer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create upload base dir %s: %w", cfg.FsPath, err)
		}
		return fs, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
}
