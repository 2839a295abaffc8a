package local

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
)

func TestFetch(t *testing.T) {
	s := New()

	a, err := s.Fetch(context.Background(), 64)
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, err := s.Fetch(context.Background(), 64)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}

func TestFetchErrors(t *testing.T) {
	s := New()

	_, err := s.Fetch(context.Background(), 0)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Fetch(ctx, 8)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrCannotDownload))
}
