// Package block defines the storage backend behind one pool location.
//
// A backend is a flat namespace of small objects addressed by slash-separated
// keys. The pool stores one metadata record and a sequence of encrypted blocks
// per location:
//
//	pool.meta
//	blocks/0000000000000001.blk
//	blocks/0000000000000002.blk
//
// Backends do not interpret object contents.
package block

import (
	"context"
	"errors"
)

// Common errors returned by Store implementations.
var (
	// ErrBlockNotFound is returned when a requested object doesn't exist.
	ErrBlockNotFound = errors.New("block not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrLocked is returned when another process holds the location.
	ErrLocked = errors.New("location is locked by another process")
)

// Store is the interface every location backend implements.
type Store interface {
	// WriteBlock stores data under key, replacing any previous object.
	// A reader never observes a partially written object.
	WriteBlock(ctx context.Context, key string, data []byte) error

	// ReadBlock returns the object stored under key.
	// Returns ErrBlockNotFound if it doesn't exist.
	ReadBlock(ctx context.Context, key string) ([]byte, error)

	// DeleteBlock erases the object stored under key. Backends that can
	// overwrite in place do so before unlinking. Deleting a missing key is
	// not an error.
	DeleteBlock(ctx context.Context, key string) error

	// DeleteByPrefix removes every object whose key starts with prefix.
	// Prefixes are directory-shaped ("blocks/") or empty for everything.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// ListByPrefix lists keys starting with prefix in lexical order.
	// Returns an empty slice if nothing matches.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the backend is reachable and writable.
	HealthCheck(ctx context.Context) error

	// Close releases resources and any process lock held on the location.
	Close() error
}
