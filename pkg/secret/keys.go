package secret

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of every derived key.
	KeySize = 32

	// CheckSize is the size of the secret check stored in shard metadata.
	CheckSize = 16

	// TagSize is the size of a metadata authentication tag.
	TagSize = sha256.Size

	// NonceSize is the AEAD nonce size (XChaCha20-Poly1305).
	NonceSize = chacha20poly1305.NonceSizeX

	// Overhead is the ciphertext expansion added by Seal.
	Overhead = chacha20poly1305.Overhead
)

var (
	kdfSalt       = []byte("randpool/v1")
	checkConstant = []byte("randpool secret check")
)

// Keys are the per-location keys derived from a device secret: an AEAD key
// for block payloads and a MAC key for metadata.
type Keys struct {
	location string
	enc      [KeySize]byte
	mac      [KeySize]byte
	aead     cipher.AEAD
}

// Derive expands secret into the keys for one storage location. Different
// locations never share keys.
func Derive(secret []byte, locationID string) (*Keys, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty device secret")
	}

	k := &Keys{location: locationID}
	r := hkdf.New(sha256.New, secret, kdfSalt, []byte("enc|"+locationID))
	if _, err := io.ReadFull(r, k.enc[:]); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	r = hkdf.New(sha256.New, secret, kdfSalt, []byte("mac|"+locationID))
	if _, err := io.ReadFull(r, k.mac[:]); err != nil {
		return nil, fmt.Errorf("derive mac key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(k.enc[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	k.aead = aead
	return k, nil
}

// Location returns the location ID the keys were derived for.
func (k *Keys) Location() string { return k.location }

// Seal encrypts plaintext under a fresh random nonce.
func (k *Keys) Seal(plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, k.aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext.
func (k *Keys) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce has %d bytes, want %d", len(nonce), NonceSize)
	}
	return k.aead.Open(nil, nonce, ciphertext, aad)
}

// Tag computes HMAC-SHA256 over data.
func (k *Keys) Tag(data []byte) []byte {
	m := hmac.New(sha256.New, k.mac[:])
	m.Write(data)
	return m.Sum(nil)
}

// VerifyTag checks tag against data in constant time.
func (k *Keys) VerifyTag(data, tag []byte) bool {
	return hmac.Equal(k.Tag(data), tag)
}

// Check returns a short fingerprint of the keys. It is persisted in clear so
// that a wrong secret can be told apart from corrupted data.
func (k *Keys) Check() []byte {
	return k.Tag(checkConstant)[:CheckSize]
}

// MatchesCheck reports whether check was produced by these keys.
func (k *Keys) MatchesCheck(check []byte) bool {
	return hmac.Equal(k.Check(), check)
}

// Zero clears the key material. The Keys must not be used afterwards.
func (k *Keys) Zero() {
	if k == nil {
		return
	}
	Zero(k.enc[:])
	Zero(k.mac[:])
	k.aead = nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}
