// Package supply defines the source of true-random bytes that maintenance
// draws from to refill the pool.
package supply

import (
	"context"
)

// Source delivers fresh random bytes. Implementations fail with a
// CannotDownload error when the bytes cannot be obtained.
type Source interface {
	// Fetch returns exactly n random bytes.
	Fetch(ctx context.Context, n int) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, n int) ([]byte, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, n int) ([]byte, error) { return f(ctx, n) }

// LocalEndpoint selects the local development source instead of a remote
// service.
const LocalEndpoint = "local"

// Environment selects and authenticates the remote supply service.
type Environment struct {
	// Endpoint is the base URL of the service, or "local" for the
	// development source backed by the operating system RNG.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"required"`

	// CACertPath is an optional PEM bundle trusted in addition to the
	// system roots.
	CACertPath string `mapstructure:"ca_cert_path" yaml:"ca_cert_path,omitempty"`

	// Token authenticates requests. It is normally supplied at
	// initialization rather than stored in configuration.
	Token string `mapstructure:"token" yaml:"-"`
}

// IsLocal reports whether the environment selects the local source.
func (e Environment) IsLocal() bool {
	return e.Endpoint == LocalEndpoint
}
