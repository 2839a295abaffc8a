// Package client is the public entry point to the random cache.
//
// New returns a Client. InitializeAsync opens the pool and starts background
// maintenance; key generation methods then draw from the pool and fail fast
// when it cannot serve them.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marmos91/randpool/internal/logger"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/keygen"
	"github.com/marmos91/randpool/pkg/maintenance"
	"github.com/marmos91/randpool/pkg/metrics"
	"github.com/marmos91/randpool/pkg/monitor"
	"github.com/marmos91/randpool/pkg/pool"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/marmos91/randpool/pkg/supply"
	"github.com/marmos91/randpool/pkg/supply/local"
	"github.com/marmos91/randpool/pkg/supply/remote"
)

// Version is the library version.
const Version = "0.6"

// DefaultShutdownTimeout bounds how long Close waits for an in-flight
// maintenance pass.
const DefaultShutdownTimeout = 10 * time.Second

// Client generates key material from a locally cached random pool.
type Client interface {
	// InitializeAsync opens the cache described by cfg and starts background
	// maintenance. It returns once the pool is open, without waiting for
	// any download.
	InitializeAsync(ctx context.Context, token string, cfg CacheConfig) error

	// UpdateDeviceSecret re-encrypts the cache under newSecret.
	UpdateDeviceSecret(ctx context.Context, oldSecret, newSecret []byte) error

	// Wipe destroys all cached random and resets the state to DOWNLOADING.
	// Maintenance starts refilling at once, so remaining capacity reads
	// zero only until the first refilled block is stored.
	Wipe(ctx context.Context) error

	// CheckCacheStatus validates the cache and reports its state.
	CheckCacheStatus(ctx context.Context) (monitor.CacheStatus, error)

	// Report returns the detailed status used by the status API.
	Report(ctx context.Context) (monitor.Report, error)

	// GenAsymmetricKeys returns a new key pair.
	GenAsymmetricKeys(ctx context.Context, mode keygen.AsymmetricMode) (*keygen.KeyPair, error)

	// GenSymmetricKey returns a new symmetric key. keySize applies to OTP
	// only.
	GenSymmetricKey(ctx context.Context, mode keygen.SymmetricMode, keySize int) ([]byte, error)

	// Close stops maintenance and releases every location.
	Close() error
}

// Option configures a Client.
type Option func(*client)

// WithLogger routes the client's logs to l instead of the global logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *client) { c.log = l }
}

// WithSource downloads random from src instead of the service selected by
// the environment.
func WithSource(src supply.Source) Option {
	return func(c *client) { c.source = src }
}

// WithEnvironment selects the random supply service.
func WithEnvironment(env supply.Environment) Option {
	return func(c *client) { c.env = env }
}

// WithJournal records every append and consume in j.
func WithJournal(j pool.Journal) Option {
	return func(c *client) { c.journal = j }
}

// WithShutdownTimeout sets how long Close waits for maintenance to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *client) { c.shutdownTimeout = d }
}

// WithFetchConcurrency bounds concurrent downloads during a refill.
func WithFetchConcurrency(n int) Option {
	return func(c *client) { c.fetchConcurrency = n }
}

// WithClock overrides the time source of the pool.
func WithClock(now func() time.Time) Option {
	return func(c *client) { c.now = now }
}

// poolBinder is implemented by journals that remember which pool they
// belong to, such as the badger ledger.
type poolBinder interface {
	PoolID() (string, error)
	SetPoolID(id string) error
}

type client struct {
	log              *slog.Logger
	source           supply.Source
	env              supply.Environment
	journal          pool.Journal
	shutdownTimeout  time.Duration
	fetchConcurrency int
	now              func() time.Time

	mu        sync.RWMutex
	cfg       CacheConfig
	pool      *pool.Pool
	scheduler *maintenance.Scheduler
	engine    *keygen.Engine
	monitor   *monitor.Monitor
	closed    bool
}

// New creates a client. It does no I/O until InitializeAsync.
func New(opts ...Option) Client {
	c := &client{
		env:             supply.Environment{Endpoint: supply.LocalEndpoint},
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Component("client")
	}
	return c
}

func (c *client) InitializeAsync(ctx context.Context, token string, cfg CacheConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return poolerrors.New(poolerrors.ErrRandomPoolInactive, "initialize", "client is closed")
	}
	if c.pool != nil {
		return poolerrors.NewInvalidArgumentError("initialize", "client is already initialized")
	}

	src, err := c.supplySource(token)
	if err != nil {
		return err
	}

	cfg = cfg.clone()
	secrets, err := secret.NewStore(cfg.DeviceSecret)
	secret.Zero(cfg.DeviceSecret)
	cfg.DeviceSecret = nil
	if err != nil {
		return err
	}

	p, err := pool.Open(ctx, pool.Config{
		Locations:  cfg.Locations,
		Secrets:    secrets,
		MaxPoolAge: cfg.MaxPoolAge,
		Logger:     c.log.With(logger.KeyComponent, "pool"),
		Metrics:    metrics.NewPoolMetrics(),
		Journal:    c.journal,
		Now:        c.now,
	})
	if err != nil {
		secrets.Wipe()
		return err
	}
	c.bindJournal(ctx, p)

	sched, err := maintenance.New(p, src, maintenance.Config{
		MinCached:        cfg.MinNumCachedBytes,
		MaxCached:        cfg.MaxNumCachedBytes,
		Interval:         cfg.MaintenanceInterval,
		BlockSize:        cfg.BlockSize,
		FetchConcurrency: c.fetchConcurrency,
		Metrics:          metrics.NewMaintenanceMetrics(),
		Logger:           c.log.With(logger.KeyComponent, "maintenance"),
	})
	if err != nil {
		_ = p.Close()
		return err
	}

	c.cfg = cfg
	c.pool = p
	c.scheduler = sched
	c.engine = keygen.New(p,
		keygen.WithMetrics(metrics.NewKeygenMetrics()),
		keygen.WithLogger(c.log.With(logger.KeyComponent, "keygen")))
	c.monitor = monitor.New(p, sched)

	// Maintenance outlives the caller's context; Close stops it.
	sched.Start(context.Background())

	c.log.Info("Random cache initialized",
		logger.KeyPoolID, p.ID().String(),
		"locations", len(cfg.Locations),
		logger.KeyMin, cfg.MinNumCachedBytes,
		logger.KeyMax, cfg.MaxNumCachedBytes)
	return nil
}

// supplySource picks the download source: an explicit WithSource, the
// local development source, or the remote service authenticated by token.
func (c *client) supplySource(token string) (supply.Source, error) {
	if c.source != nil {
		return c.source, nil
	}
	if c.env.IsLocal() || c.env.Endpoint == "" {
		c.log.Warn("Using the local operating system RNG as random supply")
		return local.New(), nil
	}

	env := c.env
	if token != "" {
		env.Token = token
	}
	return remote.NewFromEnvironment(env)
}

// bindJournal resets a journal that recorded a different pool, so that its
// audit trail always describes the pool on disk.
func (c *client) bindJournal(ctx context.Context, p *pool.Pool) {
	b, ok := c.journal.(poolBinder)
	if !ok {
		return
	}

	id := p.ID().String()
	prev, err := b.PoolID()
	if err != nil {
		c.log.Warn("Failed to read journal pool ID", logger.KeyError, err)
		return
	}
	if prev == id {
		return
	}
	if prev != "" {
		c.log.Info("Journal belongs to another pool, resetting", "previous", prev, logger.KeyPoolID, id)
		if err := c.journal.Reset(ctx); err != nil {
			c.log.Warn("Failed to reset journal", logger.KeyError, err)
			return
		}
	}
	if err := b.SetPoolID(id); err != nil {
		c.log.Warn("Failed to record journal pool ID", logger.KeyError, err)
	}
}

// state returns the components, or CacheNotReady before initialization.
func (c *client) state(op string) (*pool.Pool, *maintenance.Scheduler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, nil, poolerrors.New(poolerrors.ErrRandomPoolInactive, op, "client is closed")
	}
	if c.pool == nil {
		return nil, nil, poolerrors.New(poolerrors.ErrCacheNotReady, op, "client is not initialized")
	}
	return c.pool, c.scheduler, nil
}

func (c *client) UpdateDeviceSecret(ctx context.Context, oldSecret, newSecret []byte) error {
	p, _, err := c.state("update device secret")
	if err != nil {
		return err
	}
	if len(newSecret) == 0 {
		return poolerrors.NewInvalidArgumentError("update device secret", "new secret is empty")
	}

	start := time.Now()
	if err := p.ReEncrypt(ctx, oldSecret, newSecret); err != nil {
		c.log.Warn("Device secret rotation failed", logger.KeyError, err)
		return err
	}
	c.log.Info("Device secret rotated", logger.KeyDurationMs, logger.Duration(start))
	return nil
}

func (c *client) Wipe(ctx context.Context) error {
	p, sched, err := c.state("wipe")
	if err != nil {
		return err
	}
	if err := p.Wipe(ctx); err != nil {
		return err
	}
	c.bindJournal(ctx, p)
	sched.Trigger()
	return nil
}

func (c *client) CheckCacheStatus(ctx context.Context) (monitor.CacheStatus, error) {
	if _, _, err := c.state("status"); err != nil {
		return monitor.CacheStatus{}, err
	}
	return c.monitor.Check(ctx)
}

func (c *client) Report(ctx context.Context) (monitor.Report, error) {
	if _, _, err := c.state("status"); err != nil {
		return monitor.Report{}, err
	}
	return c.monitor.Report(ctx), nil
}

func (c *client) GenSymmetricKey(ctx context.Context, mode keygen.SymmetricMode, keySize int) ([]byte, error) {
	_, sched, err := c.state("keygen")
	if err != nil {
		return nil, err
	}
	key, err := c.engine.SymmetricKey(ctx, mode, keySize)
	return key, c.explain(err, sched)
}

func (c *client) GenAsymmetricKeys(ctx context.Context, mode keygen.AsymmetricMode) (*keygen.KeyPair, error) {
	_, sched, err := c.state("keygen")
	if err != nil {
		return nil, err
	}
	kp, err := c.engine.AsymmetricKeys(ctx, mode)
	return kp, c.explain(err, sched)
}

// explain reports an exhausted pool as CannotDownload when the last refill
// could not reach the supply service.
func (c *client) explain(err error, sched *maintenance.Scheduler) error {
	if err == nil || !poolerrors.Is(err, poolerrors.ErrCacheNotReady) || !sched.LastFetchFailed() {
		return err
	}
	return &poolerrors.PoolError{
		Code:    poolerrors.ErrCannotDownload,
		Op:      "keygen",
		Message: "random pool exhausted and the supply service is unreachable",
		Err:     err,
	}
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.pool == nil {
		return nil
	}

	c.scheduler.Stop(c.shutdownTimeout)

	var errs []error
	if err := c.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pool: %w", err))
	}
	c.log.Info("Random cache closed")
	return errors.Join(errs...)
}
