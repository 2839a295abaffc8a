package secret

import (
	"bytes"
	"errors"
	"testing"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	secret := []byte("device-secret-1")

	t.Run("Deterministic", func(t *testing.T) {
		a, err := Derive(secret, "ssd")
		require.NoError(t, err)
		b, err := Derive(secret, "ssd")
		require.NoError(t, err)
		assert.Equal(t, a.Check(), b.Check())
		assert.Equal(t, "ssd", a.Location())
	})

	t.Run("PerLocation", func(t *testing.T) {
		a, err := Derive(secret, "ssd")
		require.NoError(t, err)
		b, err := Derive(secret, "hdd")
		require.NoError(t, err)
		assert.NotEqual(t, a.Check(), b.Check())
	})

	t.Run("PerSecret", func(t *testing.T) {
		a, err := Derive(secret, "ssd")
		require.NoError(t, err)
		b, err := Derive([]byte("device-secret-2"), "ssd")
		require.NoError(t, err)
		assert.False(t, b.MatchesCheck(a.Check()))
		assert.True(t, a.MatchesCheck(a.Check()))
	})

	t.Run("EmptySecret", func(t *testing.T) {
		_, err := Derive(nil, "ssd")
		assert.Error(t, err)
	})
}

func TestSealOpen(t *testing.T) {
	k, err := Derive([]byte("s"), "loc")
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte{0xAB}, 1024)
	aad := []byte("header")

	nonce, ct, err := k.Seal(plaintext, aad)
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)
	assert.Len(t, ct, len(plaintext)+Overhead)

	got, err := k.Open(nonce, ct, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	t.Run("TamperedCiphertext", func(t *testing.T) {
		bad := append([]byte{}, ct...)
		bad[10] ^= 1
		_, err := k.Open(nonce, bad, aad)
		assert.Error(t, err)
	})

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := k.Open(nonce, ct, []byte("other"))
		assert.Error(t, err)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := Derive([]byte("s"), "loc2")
		require.NoError(t, err)
		_, err = other.Open(nonce, ct, aad)
		assert.Error(t, err)
	})

	t.Run("ShortNonce", func(t *testing.T) {
		_, err := k.Open(nonce[:12], ct, aad)
		assert.Error(t, err)
	})
}

func TestTag(t *testing.T) {
	k, err := Derive([]byte("s"), "loc")
	require.NoError(t, err)

	data := []byte("metadata record")
	tag := k.Tag(data)
	assert.Len(t, tag, TagSize)
	assert.True(t, k.VerifyTag(data, tag))
	assert.False(t, k.VerifyTag([]byte("metadata recorD"), tag))
}

func TestKeysZero(t *testing.T) {
	k, err := Derive([]byte("s"), "loc")
	require.NoError(t, err)
	k.Zero()
	assert.Equal(t, [KeySize]byte{}, k.enc)
	assert.Equal(t, [KeySize]byte{}, k.mac)

	var nilKeys *Keys
	nilKeys.Zero()
}

func TestStore(t *testing.T) {
	t.Run("RejectsEmpty", func(t *testing.T) {
		_, err := NewStore(nil)
		assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))
	})

	t.Run("CopiesInput", func(t *testing.T) {
		in := []byte("secret")
		s, err := NewStore(in)
		require.NoError(t, err)
		in[0] = 'X'
		assert.True(t, s.Matches([]byte("secret")))
	})

	t.Run("DeriveMatchesPackageDerive", func(t *testing.T) {
		s, err := NewStore([]byte("secret"))
		require.NoError(t, err)
		a, err := s.Derive("ssd")
		require.NoError(t, err)
		b, err := Derive([]byte("secret"), "ssd")
		require.NoError(t, err)
		assert.Equal(t, a.Check(), b.Check())
	})

	t.Run("Wipe", func(t *testing.T) {
		s, err := NewStore([]byte("secret"))
		require.NoError(t, err)
		s.Wipe()
		assert.False(t, s.Matches([]byte("secret")))
		_, err = s.Derive("ssd")
		assert.True(t, poolerrors.Is(err, poolerrors.ErrDeviceSecretFailed))
	})
}

func TestRotate(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s, err := NewStore([]byte("old"))
		require.NoError(t, err)

		var sawOld, sawNew []byte
		err = s.Rotate([]byte("old"), []byte("new"), func(o, n []byte) error {
			sawOld, sawNew = o, n
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("old"), sawOld)
		assert.Equal(t, []byte("new"), sawNew)
		assert.True(t, s.Matches([]byte("new")))
		assert.False(t, s.Matches([]byte("old")))
	})

	t.Run("WrongOldSecret", func(t *testing.T) {
		s, err := NewStore([]byte("old"))
		require.NoError(t, err)

		called := false
		err = s.Rotate([]byte("guess"), []byte("new"), func(_, _ []byte) error {
			called = true
			return nil
		})
		assert.True(t, poolerrors.Is(err, poolerrors.ErrDeviceSecretFailed))
		assert.False(t, called)
		assert.True(t, s.Matches([]byte("old")))
	})

	t.Run("ReencryptFailureKeepsOld", func(t *testing.T) {
		s, err := NewStore([]byte("old"))
		require.NoError(t, err)

		boom := errors.New("disk full")
		err = s.Rotate([]byte("old"), []byte("new"), func(_, _ []byte) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.True(t, s.Matches([]byte("old")))
	})

	t.Run("EmptyNewSecret", func(t *testing.T) {
		s, err := NewStore([]byte("old"))
		require.NoError(t, err)
		err = s.Rotate([]byte("old"), nil, nil)
		assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))
	})
}
