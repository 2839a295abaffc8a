// Package store opens the backend that serves a pool location path.
//
// Location paths select the backend by scheme:
//
//	/var/lib/randpool/ssd          filesystem (also file:///var/lib/...)
//	mem://scratch                  process-local memory namespace
//	s3://bucket/prefix?region=...  S3 or an S3-compatible service
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/randpool/pkg/store/block"
	"github.com/marmos91/randpool/pkg/store/block/fs"
	"github.com/marmos91/randpool/pkg/store/block/memory"
	"github.com/marmos91/randpool/pkg/store/block/s3"
)

// Backend names reported by BackendOf.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// BackendOf returns the backend name a location path resolves to.
func BackendOf(path string) string {
	switch {
	case strings.HasPrefix(path, "s3://"):
		return BackendS3
	case strings.HasPrefix(path, "mem://"):
		return BackendMemory
	default:
		return BackendFS
	}
}

// Open returns the store for a location path. Filesystem locations are
// created if missing and locked for exclusive use by this process.
func Open(ctx context.Context, path string) (block.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty location path")
	}

	switch BackendOf(path) {
	case BackendS3:
		cfg, err := s3.ParseURL(path)
		if err != nil {
			return nil, err
		}
		return s3.NewFromConfig(ctx, cfg)

	case BackendMemory:
		name := strings.TrimPrefix(path, "mem://")
		if name == "" {
			return memory.New(), nil
		}
		return memory.Named(name), nil

	default:
		s, err := fs.NewWithPath(strings.TrimPrefix(path, "file://"))
		if err != nil {
			return nil, err
		}
		if err := s.RemoveTemporary(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("remove leftover temporary files: %w", err)
		}
		return s, nil
	}
}
