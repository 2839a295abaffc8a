// Package secret holds the device secret and derives the keys that protect
// random pool data at rest.
//
// The device secret itself is never persisted. Each storage location gets its
// own key pair derived with HKDF-SHA256; block payloads are sealed with
// XChaCha20-Poly1305 and metadata records carry an HMAC-SHA256 tag.
package secret

import (
	"crypto/subtle"
	"sync"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
)

// Store holds the current device secret.
//
// Thread safety: all methods are safe for concurrent use. Rotate is
// serialized against other rotations.
type Store struct {
	mu       sync.RWMutex
	secret   []byte
	rotateMu sync.Mutex
}

// NewStore copies secret into a new Store.
func NewStore(secret []byte) (*Store, error) {
	if len(secret) == 0 {
		return nil, poolerrors.NewInvalidArgumentError("device secret", "device secret is empty")
	}
	return &Store{secret: clone(secret)}, nil
}

// Derive returns the keys for a location under the current secret.
func (s *Store) Derive(locationID string) (*Keys, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.secret == nil {
		return nil, poolerrors.New(poolerrors.ErrDeviceSecretFailed, "derive", "device secret has been wiped")
	}
	return Derive(s.secret, locationID)
}

// Matches reports whether candidate equals the current secret, in constant time.
func (s *Store) Matches(candidate []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret != nil && subtle.ConstantTimeCompare(s.secret, candidate) == 1
}

// Rotate replaces the current secret with newSecret. oldSecret must match the
// current one. reencrypt is invoked with both secrets and must finish
// re-protecting all data; the swap only happens if it succeeds.
func (s *Store) Rotate(oldSecret, newSecret []byte, reencrypt func(oldSecret, newSecret []byte) error) error {
	if len(newSecret) == 0 {
		return poolerrors.NewInvalidArgumentError("rotate", "new device secret is empty")
	}

	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	if !s.Matches(oldSecret) {
		return poolerrors.New(poolerrors.ErrDeviceSecretFailed, "rotate", "old device secret does not match")
	}

	if reencrypt != nil {
		if err := reencrypt(oldSecret, newSecret); err != nil {
			return err
		}
	}

	s.mu.Lock()
	Zero(s.secret)
	s.secret = clone(newSecret)
	s.mu.Unlock()
	return nil
}

// Wipe zeroes and forgets the current secret.
func (s *Store) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	Zero(s.secret)
	s.secret = nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
