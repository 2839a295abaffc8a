package keygen

import (
	"fmt"
	"strings"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/frodo/frodo640shake"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
)

// AES256KeySize is the size of an AES-256 key in bytes.
const AES256KeySize = 32

// SymmetricMode selects the symmetric key algorithm.
type SymmetricMode int

const (
	// AES256 produces a 32-byte key.
	AES256 SymmetricMode = iota

	// OTP produces a one-time pad of caller-chosen length.
	OTP
)

var symmetricNames = map[SymmetricMode]string{
	AES256: "AES_256",
	OTP:    "OTP",
}

func (m SymmetricMode) String() string {
	if name, ok := symmetricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("SymmetricMode(%d)", int(m))
}

// ParseSymmetricMode accepts the mode names printed by String, case
// insensitively. "AES256" and "AES-256" are accepted for AES_256.
func ParseSymmetricMode(s string) (SymmetricMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AES_256", "AES256", "AES-256", "AES":
		return AES256, nil
	case "OTP":
		return OTP, nil
	}
	return 0, poolerrors.NewInvalidArgumentError("keygen", "unknown symmetric mode %q", s)
}

// AsymmetricMode selects the key pair algorithm.
type AsymmetricMode int

const (
	// ECDH generates an X25519 key pair.
	ECDH AsymmetricMode = iota

	// Frodo generates a FrodoKEM-640-SHAKE key pair.
	Frodo

	// Kyber generates a Kyber768 key pair.
	Kyber

	// Kyber512 generates a Kyber512 key pair.
	Kyber512

	// Kyber1024 generates a Kyber1024 key pair.
	Kyber1024

	// MLKEM768 generates an ML-KEM-768 key pair.
	MLKEM768
)

var asymmetricNames = map[AsymmetricMode]string{
	ECDH:      "ECDH",
	Frodo:     "FRODO",
	Kyber:     "KYBER",
	Kyber512:  "KYBER512",
	Kyber1024: "KYBER1024",
	MLKEM768:  "MLKEM768",
}

func (m AsymmetricMode) String() string {
	if name, ok := asymmetricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("AsymmetricMode(%d)", int(m))
}

// AsymmetricModes lists every supported key pair algorithm.
func AsymmetricModes() []AsymmetricMode {
	return []AsymmetricMode{ECDH, Frodo, Kyber, Kyber512, Kyber1024, MLKEM768}
}

// ParseAsymmetricMode accepts the mode names printed by String, case
// insensitively, plus "X25519" for ECDH and "KYBER768" for Kyber.
func ParseAsymmetricMode(s string) (AsymmetricMode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "X25519":
		return ECDH, nil
	case "KYBER768":
		return Kyber, nil
	case "ML-KEM-768":
		return MLKEM768, nil
	}
	for mode, n := range asymmetricNames {
		if n == name {
			return mode, nil
		}
	}
	return 0, poolerrors.NewInvalidArgumentError("keygen", "unknown asymmetric mode %q", s)
}

// scheme returns the KEM scheme behind a lattice mode, nil for ECDH.
func (m AsymmetricMode) scheme() kem.Scheme {
	switch m {
	case Frodo:
		return frodo640shake.Scheme()
	case Kyber:
		return kyber768.Scheme()
	case Kyber512:
		return kyber512.Scheme()
	case Kyber1024:
		return kyber1024.Scheme()
	case MLKEM768:
		return mlkem768.Scheme()
	default:
		return nil
	}
}

// SeedSize returns the number of random bytes a key pair of this mode
// consumes.
func (m AsymmetricMode) SeedSize() (int, error) {
	if m == ECDH {
		return x25519.Size, nil
	}
	s := m.scheme()
	if s == nil {
		return 0, poolerrors.NewInvalidArgumentError("keygen", "unknown asymmetric mode %d", int(m))
	}
	return s.SeedSize(), nil
}
