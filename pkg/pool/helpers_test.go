package pool

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/randpool/pkg/secret"
	"github.com/marmos91/randpool/pkg/store/block/memory"
)

var nsCounter atomic.Int64

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv holds the locations and device secret for one test pool, so the
// pool can be closed and reopened against the same in-memory namespaces.
type testEnv struct {
	t      *testing.T
	secret []byte
	locs   []Location
	clock  *fakeClock
	maxAge time.Duration
}

func newTestEnv(t *testing.T, sizes ...uint64) *testEnv {
	t.Helper()
	if len(sizes) == 0 {
		sizes = []uint64{1 << 20}
	}

	env := &testEnv{
		t:      t,
		secret: []byte("device-secret-0123456789abcdef"),
		clock:  newFakeClock(),
	}
	for i, size := range sizes {
		name := fmt.Sprintf("%s-%d-%d", strings.ReplaceAll(t.Name(), "/", "_"), nsCounter.Add(1), i)
		env.locs = append(env.locs, Location{
			ID:            fmt.Sprintf("loc%d", i),
			Path:          "mem://" + name,
			AvailableSize: size,
		})
		t.Cleanup(func() { memory.Forget(name) })
	}
	return env
}

func (e *testEnv) config(secretValue []byte) Config {
	e.t.Helper()
	secrets, err := secret.NewStore(secretValue)
	require.NoError(e.t, err)
	return Config{
		Locations:  e.locs,
		Secrets:    secrets,
		MaxPoolAge: e.maxAge,
		Now:        e.clock.Now,
	}
}

func (e *testEnv) open() *Pool {
	e.t.Helper()
	p, err := Open(context.Background(), e.config(e.secret))
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = p.Close() })
	return p
}

func (e *testEnv) openWith(secretValue []byte) (*Pool, error) {
	e.t.Helper()
	p, err := Open(context.Background(), e.config(secretValue))
	if err == nil {
		e.t.Cleanup(func() { _ = p.Close() })
	}
	return p, err
}

// mem returns a raw handle on the namespace behind location i.
func (e *testEnv) mem(i int) *memory.Store {
	return memory.Named(strings.TrimPrefix(e.locs[i].Path, "mem://"))
}

// pattern returns n bytes whose values depend on seed, so that slices of
// different blocks never compare equal by accident.
func pattern(seed byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed ^ byte(i*7+i/251)
	}
	return out
}

func fill(t *testing.T, p *Pool, loc string, blocks ...[]byte) []byte {
	t.Helper()
	var all bytes.Buffer
	for _, b := range blocks {
		require.NoError(t, p.AppendBlock(context.Background(), loc, b))
		all.Write(b)
	}
	return all.Bytes()
}
