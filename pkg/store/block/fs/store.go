// Package fs provides a filesystem-backed location store.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/randpool/pkg/store/block"
)

const (
	lockFileName = ".lock"
	tmpSuffix    = ".tmp"
)

// Store keeps each object in its own file below BasePath.
//
// Writes go through a temporary file and a rename, so a crash leaves either
// the old or the new object. Deletes overwrite the file with zeros and sync
// it before unlinking.
type Store struct {
	mu       sync.RWMutex
	basePath string
	fileMode os.FileMode
	dirMode  os.FileMode
	lock     *os.File
	closed   bool
}

// Config holds configuration for the filesystem store.
type Config struct {
	// BasePath is the root directory of the location.
	BasePath string

	// CreateDir creates the base directory if it doesn't exist.
	CreateDir bool

	// Lock takes an exclusive advisory lock on BasePath/.lock for the
	// lifetime of the store.
	Lock bool

	// DirMode is the permission mode for created directories. Default: 0700
	DirMode os.FileMode

	// FileMode is the permission mode for created files. Default: 0600
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		Lock:      true,
		DirMode:   0700,
		FileMode:  0600,
	}
}

// New creates a filesystem store with the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0700
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0600
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path %s is not a directory", cfg.BasePath)
	}

	s := &Store{
		basePath: filepath.Clean(cfg.BasePath),
		fileMode: cfg.FileMode,
		dirMode:  cfg.DirMode,
	}

	if cfg.Lock {
		f, err := os.OpenFile(filepath.Join(s.basePath, lockFileName), os.O_CREATE|os.O_RDWR, cfg.FileMode)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}
		if err := lockFile(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.lock = f
	}

	return s, nil
}

// NewWithPath creates a filesystem store with default configuration.
func NewWithPath(basePath string) (*Store, error) {
	return New(DefaultConfig(basePath))
}

func (s *Store) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// WriteBlock atomically replaces the object under key.
func (s *Store) WriteBlock(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return err
	}

	tmpPath := path + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// ReadBlock reads a complete object from the filesystem.
func (s *Store) ReadBlock(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, block.ErrBlockNotFound
		}
		return nil, err
	}
	return data, nil
}

// DeleteBlock overwrites and removes a single object.
func (s *Store) DeleteBlock(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}

	path := s.path(key)
	if err := shred(path); err != nil {
		return err
	}
	s.cleanEmptyDirs(filepath.Dir(path))
	return nil
}

// shred zero-fills a file, syncs it and removes it.
func shred(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	info, err := f.Stat()
	if err == nil && info.Size() > 0 {
		zeros := make([]byte, min(info.Size(), 64*1024))
		for remaining := info.Size(); remaining > 0; {
			n := min(remaining, int64(len(zeros)))
			if _, err = f.Write(zeros[:n]); err != nil {
				break
			}
			remaining -= n
		}
		if err == nil {
			err = f.Sync()
		}
	}
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.basePath && strings.HasPrefix(dir, s.basePath) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// DeleteByPrefix shreds every object below prefix.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	keys, err := s.ListByPrefix(ctx, prefix)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return block.ErrStoreClosed
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.path(key)
		if err := shred(path); err != nil {
			return err
		}
		s.cleanEmptyDirs(filepath.Dir(path))
	}
	return nil
}

// ListByPrefix lists object keys below prefix. The lock file and leftover
// temporary files are never reported.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}

	root := s.path(prefix)
	keys := []string{}

	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return nil, err
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == lockFileName || strings.HasSuffix(name, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// RemoveTemporary deletes temporary files left behind by an interrupted write.
func (s *Store) RemoveTemporary() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), tmpSuffix) {
			return shred(path)
		}
		return nil
	})
}

// Close releases the location lock and marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.lock != nil {
		err := unlockFile(s.lock)
		if cerr := s.lock.Close(); err == nil {
			err = cerr
		}
		s.lock = nil
		return err
	}
	return nil
}

// HealthCheck verifies the base directory is still present and writable.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return block.ErrStoreClosed
	}

	info, err := os.Stat(s.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.basePath)
	}

	probe, err := os.CreateTemp(s.basePath, ".health-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("location not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// BasePath returns the base path of the store.
func (s *Store) BasePath() string {
	return s.basePath
}

// Ensure Store implements block.Store.
var _ block.Store = (*Store)(nil)
