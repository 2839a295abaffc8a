package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/keygen"
	"github.com/marmos91/randpool/pkg/ledger"
	"github.com/marmos91/randpool/pkg/monitor"
	"github.com/marmos91/randpool/pkg/pool"
	"github.com/marmos91/randpool/pkg/store/block/memory"
	"github.com/marmos91/randpool/pkg/supply"
)

// wordSource emits consecutive big-endian uint32 words, so every aligned
// 4-byte slice it ever produced is unique.
type wordSource struct {
	mu   sync.Mutex
	next uint32
	fail atomic.Bool
}

func (s *wordSource) Fetch(ctx context.Context, n int) ([]byte, error) {
	if s.fail.Load() {
		return nil, poolerrors.New(poolerrors.ErrCannotDownload, "fetch", "supply unreachable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, n)
	for i := 0; i+4 <= n; i += 4 {
		binary.BigEndian.PutUint32(out[i:], s.next)
		s.next++
	}
	return out, nil
}

func locations(t *testing.T, sizes ...uint64) []pool.Location {
	t.Helper()
	locs := make([]pool.Location, len(sizes))
	for i, size := range sizes {
		name := fmt.Sprintf("%s-%d", t.Name(), i)
		locs[i] = pool.Location{ID: fmt.Sprintf("loc%d", i), Path: "mem://" + name, AvailableSize: size}
		t.Cleanup(func() { memory.Forget(name) })
	}
	return locs
}

func testConfig(t *testing.T) CacheConfig {
	return CacheConfig{
		DeviceSecret:        []byte("client-test-device-secret"),
		Locations:           locations(t, 8192),
		MinNumCachedBytes:   1000,
		MaxNumCachedBytes:   5000,
		MaintenanceInterval: 10 * time.Millisecond,
		BlockSize:           1024,
	}
}

func startClient(t *testing.T, src *wordSource, cfg CacheConfig, opts ...Option) Client {
	t.Helper()
	c := New(append([]Option{WithSource(src), WithShutdownTimeout(time.Second)}, opts...)...)
	require.NoError(t, c.InitializeAsync(context.Background(), "", cfg))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitReady(t *testing.T, c Client, remaining uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := c.CheckCacheStatus(context.Background())
		return err == nil && st.State == monitor.StateReady && st.RemainingCapacity == remaining
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCacheConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CacheConfig)
	}{
		{"EmptySecret", func(c *CacheConfig) { c.DeviceSecret = nil }},
		{"NoLocations", func(c *CacheConfig) { c.Locations = nil }},
		{"DuplicateLocation", func(c *CacheConfig) { c.Locations = append(c.Locations, c.Locations[0]) }},
		{"MinAboveMax", func(c *CacheConfig) { c.MinNumCachedBytes = 6000 }},
		{"ZeroMax", func(c *CacheConfig) { c.MinNumCachedBytes, c.MaxNumCachedBytes = 0, 0 }},
		{"MaxUnreachable", func(c *CacheConfig) { c.MaxNumCachedBytes = 10000 }},
		{"ZeroInterval", func(c *CacheConfig) { c.MaintenanceInterval = 0 }},
		{"NegativeMaxAge", func(c *CacheConfig) { c.MaxPoolAge = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			err := New(WithSource(&wordSource{})).InitializeAsync(context.Background(), "", cfg)
			assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument), "got %v", err)
		})
	}

	cfg := testConfig(t)
	assert.NoError(t, cfg.Validate())
}

func TestNotInitialized(t *testing.T) {
	ctx := context.Background()
	c := New()

	_, err := c.GenSymmetricKey(ctx, keygen.AES256, 0)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrCacheNotReady))
	_, err = c.GenAsymmetricKeys(ctx, keygen.ECDH)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrCacheNotReady))
	_, err = c.CheckCacheStatus(ctx)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrCacheNotReady))
	assert.True(t, poolerrors.Is(c.Wipe(ctx), poolerrors.ErrCacheNotReady))
	assert.NoError(t, c.Close())
}

func TestInitializeTwice(t *testing.T) {
	cfg := testConfig(t)
	c := startClient(t, &wordSource{}, cfg)
	err := c.InitializeAsync(context.Background(), "", cfg)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))
}

func TestRemoteSupplyNeedsToken(t *testing.T) {
	c := New(WithEnvironment(supply.Environment{Endpoint: "https://random.example.com"}))
	err := c.InitializeAsync(context.Background(), "", testConfig(t))
	assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))
}

func TestGenerateKeys(t *testing.T) {
	ctx := context.Background()
	c := startClient(t, &wordSource{}, testConfig(t))
	waitReady(t, c, 5000)

	key, err := c.GenSymmetricKey(ctx, keygen.AES256, 0)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	pad, err := c.GenSymmetricKey(ctx, keygen.OTP, 100)
	require.NoError(t, err)
	assert.Len(t, pad, 100)

	_, err = c.GenSymmetricKey(ctx, keygen.OTP, 0)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))

	for _, mode := range []keygen.AsymmetricMode{keygen.ECDH, keygen.Kyber} {
		kp, err := c.GenAsymmetricKeys(ctx, mode)
		require.NoError(t, err, mode.String())
		assert.NotEmpty(t, kp.PublicKey)
		assert.NotEmpty(t, kp.PrivateKey)
	}

	st, err := c.CheckCacheStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateReady, st.State)
}

func TestKeysNeverShareBytes(t *testing.T) {
	ctx := context.Background()
	src := &wordSource{}
	cfg := testConfig(t)
	cfg.Locations = locations(t, 3000, 3000)
	c := startClient(t, src, cfg)
	waitReady(t, c, 5000)

	var (
		mu   sync.Mutex
		seen = map[uint32]bool{}
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key, err := c.GenSymmetricKey(ctx, keygen.OTP, 8)
				if poolerrors.IsRetryable(err) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				for j := 0; j < len(key); j += 4 {
					w := binary.BigEndian.Uint32(key[j:])
					assert.False(t, seen[w], "word %d returned twice", w)
					seen[w] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.NotEmpty(t, seen)
}

func TestWipe(t *testing.T) {
	ctx := context.Background()
	src := &wordSource{}
	c := startClient(t, src, testConfig(t))
	waitReady(t, c, 5000)

	src.fail.Store(true)
	require.NoError(t, c.Wipe(ctx))

	st, err := c.CheckCacheStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateDownloading, st.State)
	assert.Zero(t, st.RemainingCapacity)

	// Once a refill has failed, an empty pool reports the supply outage.
	require.Eventually(t, func() bool {
		_, err := c.GenSymmetricKey(ctx, keygen.AES256, 0)
		return poolerrors.Is(err, poolerrors.ErrCannotDownload)
	}, 5*time.Second, 5*time.Millisecond)

	_, err = c.GenSymmetricKey(ctx, keygen.AES256, 0)
	assert.True(t, poolerrors.IsRetryable(err))

	src.fail.Store(false)
	waitReady(t, c, 5000)
}

func TestUpdateDeviceSecret(t *testing.T) {
	ctx := context.Background()
	src := &wordSource{}
	cfg := testConfig(t)
	c := New(WithSource(src))
	require.NoError(t, c.InitializeAsync(ctx, "", cfg))
	waitReady(t, c, 5000)

	newSecret := []byte("rotated-device-secret")
	err := c.UpdateDeviceSecret(ctx, []byte("not the secret"), newSecret)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrDeviceSecretFailed))

	require.NoError(t, c.UpdateDeviceSecret(ctx, cfg.DeviceSecret, newSecret))
	require.NoError(t, c.Close())

	src.fail.Store(true)

	stale := New(WithSource(src))
	err = stale.InitializeAsync(ctx, "", cfg)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrDeviceSecretFailed))

	cfg.DeviceSecret = newSecret
	fresh := startClient(t, src, cfg)
	st, err := fresh.CheckCacheStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateReady, st.State)
	assert.Equal(t, uint64(5000), st.RemainingCapacity)

	_, err = fresh.GenSymmetricKey(ctx, keygen.AES256, 0)
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	c := New(WithSource(&wordSource{}))
	require.NoError(t, c.InitializeAsync(ctx, "", testConfig(t)))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.GenSymmetricKey(ctx, keygen.AES256, 0)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrRandomPoolInactive))
	err = c.InitializeAsync(ctx, "", testConfig(t))
	assert.True(t, poolerrors.Is(err, poolerrors.ErrRandomPoolInactive))
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.Open(ledger.Config{InMemory: true})
	require.NoError(t, err)
	defer l.Close()

	src := &wordSource{}
	c := startClient(t, src, testConfig(t), WithJournal(l))
	waitReady(t, c, 5000)

	first, err := l.PoolID()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	for i := 0; i < 10; i++ {
		_, err := c.GenSymmetricKey(ctx, keygen.AES256, 0)
		require.NoError(t, err)
	}

	report, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())

	src.fail.Store(true)
	require.NoError(t, c.Wipe(ctx))
	second, err := l.PoolID()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	r, err := c.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Status.RemainingCapacity)
	assert.Len(t, r.Locations, 1)
	require.NotNil(t, r.Maintenance)
}
