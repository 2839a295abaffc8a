// Package keygen turns cached random bytes into key material.
//
// Symmetric keys are the random bytes themselves. Key pairs are derived
// deterministically from a seed of random bytes whose size depends on the
// algorithm. Every call draws fresh bytes from the pool; the engine keeps no
// key material once a call returns.
package keygen

import (
	"context"
	"log/slog"

	"github.com/cloudflare/circl/dh/x25519"

	"github.com/marmos91/randpool/internal/logger"
	"github.com/marmos91/randpool/internal/telemetry"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/metrics"
	"github.com/marmos91/randpool/pkg/secret"
)

// Source supplies fresh random bytes. *pool.Pool implements it.
type Source interface {
	Consume(ctx context.Context, n uint64) ([]byte, error)
}

// KeyPair is a generated asymmetric key pair in the algorithm's binary
// encoding.
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// Zero overwrites the private key.
func (kp *KeyPair) Zero() {
	if kp != nil {
		secret.Zero(kp.PrivateKey)
	}
}

// Engine generates keys from a Source.
type Engine struct {
	src     Source
	metrics metrics.KeygenMetrics
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.KeygenMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an engine drawing from src.
func New(src Source, opts ...Option) *Engine {
	e := &Engine{src: src, log: logger.Component("keygen")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SymmetricKey returns a new symmetric key. keySize is ignored for AES256;
// for OTP it is the key length in bytes and must be positive.
//
// The consume errors of the pool are returned unchanged.
func (e *Engine) SymmetricKey(ctx context.Context, mode SymmetricMode, keySize int) ([]byte, error) {
	var n int
	switch mode {
	case AES256:
		n = AES256KeySize
	case OTP:
		if keySize <= 0 {
			return nil, e.record("symmetric", mode.String(), poolerrors.NewInvalidArgumentError("keygen", "OTP key size must be positive, got %d", keySize))
		}
		n = keySize
	default:
		return nil, e.record("symmetric", mode.String(), poolerrors.NewInvalidArgumentError("keygen", "unknown symmetric mode %d", int(mode)))
	}

	ctx, span := telemetry.StartKeygenSpan(ctx, "symmetric", mode.String(), telemetry.KeySize(n))
	defer span.End()

	key, err := e.src.Consume(ctx, uint64(n))
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, e.record("symmetric", mode.String(), err)
	}

	e.log.Debug("Generated symmetric key", logger.KeyMode, mode.String(), logger.KeyKeySize, n)
	return key, e.record("symmetric", mode.String(), nil)
}

// AsymmetricKeys returns a new key pair for mode, derived from a seed of
// fresh random bytes.
func (e *Engine) AsymmetricKeys(ctx context.Context, mode AsymmetricMode) (*KeyPair, error) {
	size, err := mode.SeedSize()
	if err != nil {
		return nil, e.record("asymmetric", mode.String(), err)
	}

	ctx, span := telemetry.StartKeygenSpan(ctx, "asymmetric", mode.String(), telemetry.KeySize(size))
	defer span.End()

	seed, err := e.src.Consume(ctx, uint64(size))
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, e.record("asymmetric", mode.String(), err)
	}
	defer secret.Zero(seed)

	kp, err := derive(mode, seed)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, e.record("asymmetric", mode.String(), err)
	}

	e.log.Debug("Generated key pair", logger.KeyMode, mode.String(), "seed_size", size)
	return kp, e.record("asymmetric", mode.String(), nil)
}

func (e *Engine) record(kind, mode string, err error) error {
	if e.metrics != nil {
		e.metrics.RecordKey(kind, mode, err)
	}
	return err
}

// derive builds the key pair for mode from seed. The seed length must equal
// the mode's SeedSize.
func derive(mode AsymmetricMode, seed []byte) (*KeyPair, error) {
	if mode == ECDH {
		var sk, pk x25519.Key
		copy(sk[:], seed)
		x25519.KeyGen(&pk, &sk)
		kp := &KeyPair{PrivateKey: append([]byte(nil), sk[:]...), PublicKey: append([]byte(nil), pk[:]...)}
		secret.Zero(sk[:])
		return kp, nil
	}

	pub, priv := mode.scheme().DeriveKeyPair(seed)
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, poolerrors.Wrap(poolerrors.ErrUnknown, "keygen", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, poolerrors.Wrap(poolerrors.ErrUnknown, "keygen", err)
	}
	return &KeyPair{PrivateKey: privBytes, PublicKey: pubBytes}, nil
}
