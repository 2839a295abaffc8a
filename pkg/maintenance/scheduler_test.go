package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/pool"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/marmos91/randpool/pkg/store/block/memory"
	"github.com/marmos91/randpool/pkg/supply"
)

// ============================================================================
// Helpers
// ============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// source hands out a counting byte pattern and can be switched to fail.
type source struct {
	mu      sync.Mutex
	next    byte
	fail    bool
	short   bool
	calls   int
	fetched int
}

func (s *source) Fetch(ctx context.Context, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, poolerrors.New(poolerrors.ErrCannotDownload, "fetch", "supply unreachable")
	}
	if s.short {
		n--
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = s.next
		s.next++
	}
	s.fetched += n
	return out, nil
}

func (s *source) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

var _ supply.Source = (*source)(nil)

type env struct {
	pool  *pool.Pool
	clock *clock
}

func newEnv(t *testing.T, maxAge time.Duration, sizes ...uint64) *env {
	t.Helper()

	secrets, err := secret.NewStore([]byte("maintenance-test-device-secret"))
	require.NoError(t, err)

	locs := make([]pool.Location, len(sizes))
	for i, size := range sizes {
		name := fmt.Sprintf("%s-%d", t.Name(), i)
		locs[i] = pool.Location{ID: fmt.Sprintf("loc%d", i), Path: "mem://" + name, AvailableSize: size}
		t.Cleanup(func() { memory.Forget(name) })
	}

	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, err := pool.Open(context.Background(), pool.Config{
		Locations:  locs,
		Secrets:    secrets,
		MaxPoolAge: maxAge,
		Now:        c.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return &env{pool: p, clock: c}
}

func newScheduler(t *testing.T, target Target, src supply.Source, min, max uint64) *Scheduler {
	t.Helper()
	s, err := New(target, src, Config{
		MinCached: min,
		MaxCached: max,
		Interval:  time.Hour,
		BlockSize: 1024,
	})
	require.NoError(t, err)
	return s
}

// ============================================================================
// Construction
// ============================================================================

func TestNew(t *testing.T) {
	e := newEnv(t, 0, 4096)

	t.Run("MinAboveMax", func(t *testing.T) {
		_, err := New(e.pool, &source{}, Config{MinCached: 10, MaxCached: 5, Interval: time.Second})
		assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))
	})

	t.Run("ZeroInterval", func(t *testing.T) {
		_, err := New(e.pool, &source{}, Config{MinCached: 1, MaxCached: 5})
		assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))
	})

	t.Run("MissingSource", func(t *testing.T) {
		_, err := New(e.pool, nil, Config{MinCached: 1, MaxCached: 5, Interval: time.Second})
		assert.True(t, poolerrors.Is(err, poolerrors.ErrInvalidArgument))
	})

	t.Run("Defaults", func(t *testing.T) {
		s, err := New(e.pool, &source{}, Config{MinCached: 1, MaxCached: 5, Interval: time.Second})
		require.NoError(t, err)
		assert.Equal(t, DefaultBlockSize, s.cfg.BlockSize)
		assert.Equal(t, DefaultFetchConcurrency, s.cfg.FetchConcurrency)
		assert.NotNil(t, s.log)
	})
}

// ============================================================================
// Passes
// ============================================================================

func TestConvergence(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 0, 8192)
	src := &source{}
	s := newScheduler(t, e.pool, src, 1000, 5000)

	assert.False(t, e.pool.Ready())

	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, uint64(5000), e.pool.RemainingCapacity())
	assert.True(t, e.pool.Ready())
	assert.Equal(t, 1, s.Stats().ReadyTransitions)

	// Above the floor: nothing to do.
	calls := src.calls
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, calls, src.calls)
	assert.Equal(t, uint64(5000), e.pool.RemainingCapacity())

	// Drain below the floor and refill. READY does not transition again.
	_, err := e.pool.Consume(ctx, 4500)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, uint64(5000), e.pool.RemainingCapacity())

	stats := s.Stats()
	assert.Equal(t, 1, stats.ReadyTransitions)
	assert.Equal(t, 3, stats.Ticks)
	assert.Equal(t, uint64(9500), stats.FetchedBytes)
	assert.Zero(t, stats.FailedTicks)
}

func TestReadyOnlyOnceFloorReached(t *testing.T) {
	ctx := context.Background()
	// Two small locations cannot hold the floor on their own.
	e := newEnv(t, 0, 400, 400)
	s := newScheduler(t, e.pool, &source{}, 1000, 5000)

	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, uint64(800), e.pool.RemainingCapacity())
	assert.False(t, e.pool.Ready())
	assert.Zero(t, s.Stats().ReadyTransitions)
}

// wipeAfterRead wipes the pool right after its capacity has been read, the
// way a concurrent client Wipe can land in the middle of a pass.
type wipeAfterRead struct {
	*pool.Pool
	once sync.Once
}

func (w *wipeAfterRead) RemainingCapacity() uint64 {
	n := w.Pool.RemainingCapacity()
	w.once.Do(func() { _ = w.Pool.Wipe(context.Background()) })
	return n
}

func TestWipeDuringPassKeepsPoolNotReady(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 0, 8192)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.pool.AppendBlock(ctx, "loc0", make([]byte, 1024)))
	}
	require.False(t, e.pool.Ready())

	src := &source{}
	src.setFail(true)
	s := newScheduler(t, &wipeAfterRead{Pool: e.pool}, src, 1000, 5000)

	require.NoError(t, s.RunOnce(ctx))
	assert.Zero(t, e.pool.RemainingCapacity())
	assert.False(t, e.pool.Ready())
	assert.Zero(t, s.Stats().ReadyTransitions)
}

func TestSpreadsAcrossLocations(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 0, 3000, 3000)
	s := newScheduler(t, e.pool, &source{}, 1000, 5000)

	require.NoError(t, s.RunOnce(ctx))

	var stored []uint64
	for _, st := range e.pool.Stats() {
		stored = append(stored, st.Stored)
	}
	require.Len(t, stored, 2)
	assert.Equal(t, uint64(5000), stored[0]+stored[1])
	assert.InDelta(t, float64(stored[0]), float64(stored[1]), 1024)
}

func TestFetchFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 0, 8192)
	src := &source{fail: true}
	s := newScheduler(t, e.pool, src, 1000, 5000)

	err := s.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrCannotDownload))
	assert.True(t, s.LastFetchFailed())
	assert.False(t, e.pool.Ready())
	assert.Zero(t, e.pool.RemainingCapacity())

	stats := s.Stats()
	assert.Equal(t, 1, stats.FailedTicks)
	assert.Equal(t, 5, stats.FailedFetches)
	assert.Error(t, stats.LastError)
	assert.False(t, stats.LastErrorAt.IsZero())

	// The supply recovers and the next pass catches up.
	src.setFail(false)
	require.NoError(t, s.RunOnce(ctx))
	assert.False(t, s.LastFetchFailed())
	assert.True(t, e.pool.Ready())
	assert.Equal(t, uint64(5000), e.pool.RemainingCapacity())
}

func TestShortFetch(t *testing.T) {
	e := newEnv(t, 0, 8192)
	s := newScheduler(t, e.pool, &source{short: true}, 1000, 5000)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrCannotDownload))
	assert.Zero(t, e.pool.RemainingCapacity())
}

func TestPurgesExpiredBlocks(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Hour, 8192)
	s := newScheduler(t, e.pool, &source{}, 1000, 5000)

	require.NoError(t, s.RunOnce(ctx))
	require.Equal(t, uint64(5000), e.pool.RemainingCapacity())

	e.clock.Advance(2 * time.Hour)
	require.True(t, e.pool.Expired())

	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, uint64(5000), e.pool.RemainingCapacity())
	assert.False(t, e.pool.Expired())
	assert.Equal(t, uint64(10000), s.Stats().FetchedBytes)

	_, err := e.pool.Consume(ctx, 32)
	assert.NoError(t, err)
}

// appendFailure wraps a pool and fails every append.
type appendFailure struct {
	*pool.Pool
}

func (a appendFailure) AppendBlock(ctx context.Context, locationID string, data []byte) error {
	return poolerrors.NewSystemError("append", locationID, errors.New("disk full"))
}

func TestAppendFailureIsNotFetchFailure(t *testing.T) {
	e := newEnv(t, 0, 8192)
	s := newScheduler(t, appendFailure{e.pool}, &source{}, 1000, 5000)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, poolerrors.Is(err, poolerrors.ErrSystem))
	assert.False(t, s.LastFetchFailed())
}

// ============================================================================
// Background loop
// ============================================================================

func TestStartStop(t *testing.T) {
	e := newEnv(t, 0, 8192)
	s, err := New(e.pool, &source{}, Config{
		MinCached: 1000,
		MaxCached: 5000,
		Interval:  10 * time.Millisecond,
		BlockSize: 512,
	})
	require.NoError(t, err)

	s.Start(context.Background())
	s.Start(context.Background())

	require.Eventually(t, e.pool.Ready, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(5000), e.pool.RemainingCapacity())

	s.Stop(time.Second)
	s.Stop(time.Second)

	ticks := s.Stats().Ticks
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, s.Stats().Ticks)
}

func TestStopWithoutStart(t *testing.T) {
	e := newEnv(t, 0, 8192)
	s := newScheduler(t, e.pool, &source{}, 1000, 5000)
	assert.NotPanics(t, func() { s.Stop(time.Second) })
}

func TestTrigger(t *testing.T) {
	e := newEnv(t, 0, 8192)
	s := newScheduler(t, e.pool, &source{}, 1000, 5000)

	s.Start(context.Background())
	defer s.Stop(time.Second)

	require.Eventually(t, e.pool.Ready, 2*time.Second, 5*time.Millisecond)

	_, err := e.pool.Consume(context.Background(), 4500)
	require.NoError(t, err)

	s.Trigger()
	s.Trigger()
	require.Eventually(t, func() bool {
		return e.pool.RemainingCapacity() == 5000
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopCancelsSlowPass(t *testing.T) {
	e := newEnv(t, 0, 8192)

	var started atomic.Bool
	slow := supply.SourceFunc(func(ctx context.Context, n int) ([]byte, error) {
		started.Store(true)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := newScheduler(t, e.pool, slow, 1000, 5000)

	s.Start(context.Background())
	require.Eventually(t, started.Load, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop(10 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the pass")
	}
	assert.True(t, s.LastFetchFailed())
}
