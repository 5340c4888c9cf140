// Package input resolves bulkload data sources: local files and objects on
// S3-compatible storage.
package input

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	appconfig "github.com/perrin/forcebulk/internal/config"
)

// Source yields the CSV payload for one batch.
type Source interface {
	// Open returns the payload stream. The caller closes it.
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the source for logging and the run summary.
	Name() string
}

// FileSource reads a local file.
type FileSource struct {
	Path string
}

func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	return file, nil
}

func (f *FileSource) Name() string { return f.Path }

// ParseSource resolves a source argument. "s3://bucket/key" selects the S3
// source configured in cfg; anything else is treated as a local path.
func ParseSource(arg string, cfg *appconfig.S3Config) (Source, error) {
	if !strings.HasPrefix(arg, "s3://") {
		return &FileSource{Path: arg}, nil
	}

	rest := strings.TrimPrefix(arg, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 source %q, want s3://bucket/key", arg)
	}
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 source %q requires input.s3 configuration", arg)
	}

	return NewS3Source(cfg, bucket, key)
}
