package pool

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/secret"
)

func TestReEncrypt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 1000, 1000)
	p := env.open()

	a := fill(t, p, "loc0", pattern(1, 64), pattern(2, 64))
	b := fill(t, p, "loc1", pattern(3, 64))
	require.NoError(t, p.MarkReady(ctx))

	first, err := p.Consume(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, a[:10], first)

	newSecret := []byte("rotated-device-secret")
	require.NoError(t, p.ReEncrypt(ctx, env.secret, newSecret))

	next, err := p.Consume(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, a[10:20], next, "pool keeps serving after rotation")
	require.NoError(t, p.Verify(ctx))

	for i := range env.locs {
		keys, err := env.mem(i).ListByPrefix(ctx, "")
		require.NoError(t, err)
		for _, k := range keys {
			assert.False(t, strings.HasSuffix(k, stagedSuffix), "staged object %s left behind", k)
		}
		assert.NotContains(t, keys, stagedMetaKey)
	}
	require.NoError(t, p.Close())

	_, err = env.openWith(env.secret)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrDeviceSecretFailed), "old secret: %v", err)

	p2, err := env.openWith(newSecret)
	require.NoError(t, err)
	assert.True(t, p2.Ready())
	rest, err := p2.Consume(ctx, p2.RemainingCapacity())
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, a[20:]...), b...), rest)
}

func TestReEncryptWrongOldSecret(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.open()
	data := fill(t, p, "loc0", pattern(1, 32))
	require.NoError(t, p.MarkReady(ctx))

	err := p.ReEncrypt(ctx, []byte("not-the-secret"), []byte("new"))
	assert.True(t, poolerrors.Is(err, poolerrors.ErrDeviceSecretFailed), "got %v", err)

	err = p.ReEncrypt(ctx, env.secret, nil)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument), "got %v", err)

	got, err := p.Consume(ctx, 32)
	require.NoError(t, err)
	assert.Equal(t, data, got, "failed rotation leaves the pool untouched")
}

func TestReEncryptEmptyPool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.open()

	newSecret := []byte("fresh")
	require.NoError(t, p.ReEncrypt(ctx, env.secret, newSecret))

	data := fill(t, p, "loc0", pattern(9, 16))
	require.NoError(t, p.Close())

	p2, err := env.openWith(newSecret)
	require.NoError(t, err)
	require.NoError(t, p2.MarkReady(ctx))
	got, err := p2.Consume(ctx, 16)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// stageOnly runs the first rotation phase for every location, as if the
// process died right after it.
func stageOnly(t *testing.T, p *Pool, newSecret []byte) []*rekeyState {
	t.Helper()
	var states []*rekeyState
	for _, sh := range p.shards {
		keys, err := secret.Derive(newSecret, sh.loc.ID)
		require.NoError(t, err)
		st := &rekeyState{sh: sh, keys: keys}
		require.NoError(t, p.stage(context.Background(), st))
		states = append(states, st)
	}
	return states
}

func TestRecoverRollsBackUncommittedRotation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.open()
	data := fill(t, p, "loc0", pattern(1, 40), pattern(2, 40))
	require.NoError(t, p.MarkReady(ctx))

	stageOnly(t, p, []byte("never-committed"))
	require.NoError(t, p.Close())

	p2, err := env.openWith(env.secret)
	require.NoError(t, err)

	keys, err := env.mem(0).ListByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{blockKey(1), blockKey(2), metaKey}, keys)

	got, err := p2.Consume(ctx, 80)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRecoverRollsForwardCommittedRotation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.open()
	data := fill(t, p, "loc0", pattern(1, 40), pattern(2, 40))
	require.NoError(t, p.MarkReady(ctx))

	newSecret := []byte("committed-secret")
	states := stageOnly(t, p, newSecret)
	// Metadata swapped, blocks not yet promoted.
	require.NoError(t, env.mem(0).WriteBlock(ctx, metaKey, states[0].newMeta))
	require.NoError(t, p.Close())

	p2, err := env.openWith(newSecret)
	require.NoError(t, err)
	require.NoError(t, p2.Verify(ctx))

	got, err := p2.Consume(ctx, 80)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
