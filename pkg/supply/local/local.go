// Package local provides a Source backed by the operating system RNG, for
// development and tests where no supply service is reachable.
package local

import (
	"context"
	"crypto/rand"
	"fmt"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/supply"
)

// Source reads from crypto/rand.
type Source struct{}

// New returns a local source.
func New() *Source { return &Source{} }

// Fetch returns n bytes from the operating system RNG.
func (s *Source) Fetch(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, poolerrors.NewInvalidArgumentError("fetch", "requested %d bytes", n)
	}
	if err := ctx.Err(); err != nil {
		return nil, poolerrors.Wrap(poolerrors.ErrCannotDownload, "fetch", err)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, poolerrors.Wrap(poolerrors.ErrCannotDownload, "fetch", fmt.Errorf("read system rng: %w", err))
	}
	return buf, nil
}

var _ supply.Source = (*Source)(nil)
