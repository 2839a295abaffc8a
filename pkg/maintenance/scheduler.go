// Package maintenance keeps the random pool topped up in the background.
//
// A Scheduler wakes every Interval, discards expired blocks, and when the
// pool has fallen below MinCached downloads enough random from the supply
// source to bring it back to MaxCached. Downloads run outside every pool
// lock; only the final append takes the owning shard's lock.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/randpool/internal/logger"
	"github.com/marmos91/randpool/internal/telemetry"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/metrics"
	"github.com/marmos91/randpool/pkg/pool"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/marmos91/randpool/pkg/supply"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultBlockSize        uint32 = 64 * 1024
	DefaultFetchConcurrency        = 4
)

// Target is the part of the pool the scheduler drives. *pool.Pool
// implements it.
type Target interface {
	RemainingCapacity() uint64
	Ready() bool
	MarkReadyIfAtLeast(ctx context.Context, min uint64) (bool, error)
	PlanFill(need uint64, blockSize uint32) []pool.Allocation
	AppendBlock(ctx context.Context, locationID string, data []byte) error
	PurgeExpired(ctx context.Context) (uint64, error)
}

var _ Target = (*pool.Pool)(nil)

// Config holds the scheduler thresholds.
type Config struct {
	// MinCached is the remaining-capacity floor that triggers a refill.
	MinCached uint64

	// MaxCached is the level a refill tops the pool up to.
	MaxCached uint64

	// Interval is the time between maintenance passes.
	Interval time.Duration

	// BlockSize caps the size of a single download and stored block.
	// Default: 64KiB
	BlockSize uint32

	// FetchConcurrency bounds the downloads in flight during one pass.
	// Default: 4
	FetchConcurrency int

	// Metrics is optional.
	Metrics metrics.MaintenanceMetrics

	// Logger defaults to the "maintenance" component logger.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.MinCached > c.MaxCached {
		return poolerrors.NewInvalidArgumentError("maintenance", "min cached bytes %d exceed max cached bytes %d", c.MinCached, c.MaxCached)
	}
	if c.Interval <= 0 {
		return poolerrors.NewInvalidArgumentError("maintenance", "interval must be positive")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.Logger == nil {
		c.Logger = logger.Component("maintenance")
	}
}

// Stats summarizes the scheduler's activity since it was created.
type Stats struct {
	Ticks            int
	FailedTicks      int
	FetchedBytes     uint64
	FailedFetches    int
	ReadyTransitions int
	LastTick         time.Time
	LastError        error
	LastErrorAt      time.Time
}

// Scheduler runs maintenance passes against a Target.
type Scheduler struct {
	target Target
	source supply.Source
	cfg    Config
	log    *slog.Logger

	// tickMu serializes passes between the loop and RunOnce.
	tickMu sync.Mutex

	trigger   chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	cancel    context.CancelFunc
	stopOnce  sync.Once

	mu              sync.Mutex
	started         bool
	stats           Stats
	lastFetchFailed bool
}

// New creates a scheduler. It does not start it.
func New(target Target, source supply.Source, cfg Config) (*Scheduler, error) {
	if target == nil || source == nil {
		return nil, poolerrors.NewInvalidArgumentError("maintenance", "pool and supply source are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &Scheduler{
		target:    target,
		source:    source,
		cfg:       cfg,
		log:       cfg.Logger,
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Start launches the background loop. The first pass runs immediately.
// Calling Start more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.Info("Starting maintenance",
		logger.KeyMin, s.cfg.MinCached,
		logger.KeyMax, s.cfg.MaxCached,
		"interval", s.cfg.Interval)

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		_ = s.RunOnce(ctx)

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}

// Stop ends the background loop, waiting up to timeout for an in-flight
// pass to finish. When the wait times out the pass is cancelled. Stop is
// safe to call more than once and on a scheduler that was never started.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	s.stopOnce.Do(func() {
		close(s.stopCh)

		select {
		case <-s.stoppedCh:
			s.log.Info("Maintenance stopped")
		case <-time.After(timeout):
			s.log.Warn("Maintenance stop timed out, cancelling in-flight pass")
			s.cancel()
			<-s.stoppedCh
		}
		s.cancel()
	})
}

// Trigger requests an extra pass without waiting for the next interval. It
// never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// LastFetchFailed reports whether the most recent pass that needed to
// download random failed to do so.
func (s *Scheduler) LastFetchFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetchFailed
}

// RunOnce performs a single maintenance pass and returns its error. Errors
// are also logged and recorded in Stats; the loop ignores them and retries
// on the next pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	ctx, span := telemetry.StartMaintenanceSpan(ctx, "tick")
	defer span.End()

	start := time.Now()
	err := s.tick(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.stats.Ticks++
	s.stats.LastTick = start
	if err != nil {
		s.stats.FailedTicks++
		s.stats.LastError = err
		s.stats.LastErrorAt = start
	}
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveTick(elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("Maintenance pass failed", logger.KeyError, err, logger.KeyDurationMs, logger.Duration(start))
	}
	return err
}

func (s *Scheduler) tick(ctx context.Context) error {
	var errs []error

	purged, err := s.target.PurgeExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge expired blocks: %w", err))
	}
	telemetry.SetAttributes(ctx, telemetry.Purged(purged))

	remaining := s.target.RemainingCapacity()
	if remaining < s.cfg.MinCached {
		if err := s.refill(ctx, s.cfg.MaxCached-remaining); err != nil {
			errs = append(errs, err)
		}
		remaining = s.target.RemainingCapacity()
	}
	telemetry.SetAttributes(ctx, telemetry.Remaining(remaining))

	if !s.target.Ready() && remaining >= s.cfg.MinCached {
		marked, err := s.target.MarkReadyIfAtLeast(ctx, s.cfg.MinCached)
		if err != nil {
			errs = append(errs, fmt.Errorf("persist ready flag: %w", err))
		}
		if marked {
			s.mu.Lock()
			s.stats.ReadyTransitions++
			s.mu.Unlock()
			s.log.Info("Random pool ready", logger.KeyState, "READY", logger.KeyRemaining, remaining)
		}
	}

	return errors.Join(errs...)
}

// refill downloads up to need bytes and appends them to the locations
// chosen by the pool. Each allocation is fetched and appended on its own,
// so a failed download does not discard the others.
func (s *Scheduler) refill(ctx context.Context, need uint64) error {
	plan := s.target.PlanFill(need, s.cfg.BlockSize)
	telemetry.SetAttributes(ctx, telemetry.Need(need), telemetry.Allocations(len(plan)))
	if len(plan) == 0 {
		s.log.Warn("No location has room for a refill", logger.KeyRequested, need)
		return nil
	}

	s.log.Debug("Refilling random pool", logger.KeyRequested, need, logger.KeyBlocks, len(plan))

	var (
		mu         sync.Mutex
		errs       []error
		fetchFails int
		fetched    uint64
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.FetchConcurrency)
	for _, alloc := range plan {
		g.Go(func() error {
			n, fetchErr, err := s.fill(ctx, alloc)
			mu.Lock()
			defer mu.Unlock()
			fetched += n
			if fetchErr {
				fetchFails++
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.stats.FetchedBytes += fetched
	s.stats.FailedFetches += fetchFails
	s.lastFetchFailed = fetchFails > 0
	s.mu.Unlock()

	if fetchFails > 0 {
		s.log.Warn("Random download failed, retrying next pass",
			"failed", fetchFails,
			logger.KeyBlocks, len(plan),
			logger.KeyDownloaded, fetched)
	}
	return errors.Join(errs...)
}

// fill downloads one allocation and appends it. fetchFailed is set when the
// supply source, rather than the pool, caused the failure.
func (s *Scheduler) fill(ctx context.Context, alloc pool.Allocation) (n uint64, fetchFailed bool, err error) {
	fctx, span := telemetry.StartSupplySpan(ctx, telemetry.Location(alloc.LocationID), telemetry.Requested(uint64(alloc.Size)))
	defer span.End()

	start := time.Now()
	data, err := s.source.Fetch(fctx, int(alloc.Size))
	if err == nil && len(data) != int(alloc.Size) {
		err = poolerrors.New(poolerrors.ErrCannotDownload, "fetch", "supply returned %d bytes, want %d", len(data), alloc.Size)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordFetch(len(data), time.Since(start), err)
	}
	if err != nil {
		secret.Zero(data)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if poolerrors.CodeOf(err) != poolerrors.ErrCannotDownload {
			err = poolerrors.Wrap(poolerrors.ErrCannotDownload, "fetch", err)
		}
		return 0, true, err
	}
	defer secret.Zero(data)

	if err := s.target.AppendBlock(ctx, alloc.LocationID, data); err != nil {
		return 0, false, err
	}
	return uint64(len(data)), false, nil
}
