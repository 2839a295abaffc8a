// Package memory provides an in-memory location store for tests and for
// ephemeral pools.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/randpool/pkg/store/block"
)

var errUnhealthy = errors.New("memory location marked unhealthy")

// space is the shared object map behind one or more Store handles.
type space struct {
	mu      sync.RWMutex
	objects map[string][]byte
	healthy bool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*space{}
)

// Store is an in-memory implementation of block.Store.
type Store struct {
	data   *space
	mu     sync.RWMutex
	closed bool
}

// New creates a store backed by a private, empty namespace.
func New() *Store {
	return &Store{data: newSpace()}
}

// Named returns a store over the process-wide namespace called name. Handles
// with the same name see the same objects, which lets a pool be closed and
// reopened within one process.
func Named(name string) *Store {
	registryMu.Lock()
	defer registryMu.Unlock()

	sp, ok := registry[name]
	if !ok {
		sp = newSpace()
		registry[name] = sp
	}
	return &Store{data: sp}
}

// Forget drops a named namespace.
func Forget(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

func newSpace() *space {
	return &space{objects: make(map[string][]byte), healthy: true}
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// WriteBlock stores a copy of data.
func (s *Store) WriteBlock(ctx context.Context, key string, data []byte) error {
	if s.isClosed() {
		return block.ErrStoreClosed
	}

	copied := make([]byte, len(data))
	copy(copied, data)

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if old, ok := s.data.objects[key]; ok {
		clear(old)
	}
	s.data.objects[key] = copied
	return nil
}

// ReadBlock returns a copy of the object.
func (s *Store) ReadBlock(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, block.ErrStoreClosed
	}

	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	data, ok := s.data.objects[key]
	if !ok {
		return nil, block.ErrBlockNotFound
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// DeleteBlock zeroes and removes a single object.
func (s *Store) DeleteBlock(ctx context.Context, key string) error {
	if s.isClosed() {
		return block.ErrStoreClosed
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if old, ok := s.data.objects[key]; ok {
		clear(old)
		delete(s.data.objects, key)
	}
	return nil
}

// DeleteByPrefix removes all objects with a given prefix.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	if s.isClosed() {
		return block.ErrStoreClosed
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	for key, data := range s.data.objects {
		if strings.HasPrefix(key, prefix) {
			clear(data)
			delete(s.data.objects, key)
		}
	}
	return nil
}

// ListByPrefix lists all keys with a given prefix, sorted.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if s.isClosed() {
		return nil, block.ErrStoreClosed
	}

	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	keys := []string{}
	for key := range s.data.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks this handle as closed. Named namespaces keep their data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// HealthCheck fails when the handle is closed or the namespace was marked
// unhealthy with SetHealthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.isClosed() {
		return block.ErrStoreClosed
	}
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	if !s.data.healthy {
		return errUnhealthy
	}
	return nil
}

// SetHealthy toggles the simulated reachability of the namespace.
func (s *Store) SetHealthy(ok bool) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	s.data.healthy = ok
}

// BlockCount returns the number of objects stored.
func (s *Store) BlockCount() int {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	return len(s.data.objects)
}

// TotalSize returns the total size of all objects stored.
func (s *Store) TotalSize() int64 {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	var total int64
	for _, data := range s.data.objects {
		total += int64(len(data))
	}
	return total
}

// Ensure Store implements block.Store.
var _ block.Store = (*Store)(nil)
