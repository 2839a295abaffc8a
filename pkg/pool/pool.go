// Package pool implements the encrypted, multi-location random cache.
//
// A Pool spreads random bytes over one or more storage locations. Each
// location holds a shard: a metadata record plus a run of blocks, each block
// sealed under keys derived from the device secret and the location ID.
// Bytes are appended at the tail of a shard and handed out from its head;
// every byte is returned at most once and erased from storage once consumed.
//
// Locking:
//
//   - rotMu: Consume, AppendBlock, Verify and MarkReadyIfAtLeast hold it shared;
//     ReEncrypt, Wipe, PurgeExpired and Close hold it exclusively.
//   - mu: capacity accounting and reservations; held briefly, never while
//     waiting for a shard lock.
//   - shard.mu: storage I/O for one location. Lock order is shard.mu then mu.
//
// Consume reserves bytes under mu, releases it, then takes the reserved count
// from each shard head under shard.mu. Because takes are FIFO per shard and
// reservations never exceed what a shard holds, concurrent consumers always
// receive disjoint bytes.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/randpool/internal/logger"
	"github.com/marmos91/randpool/internal/telemetry"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/metrics"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/marmos91/randpool/pkg/store"
	"github.com/marmos91/randpool/pkg/store/block"
)

// Location is a storage location contributing capacity to the pool.
type Location struct {
	// ID uniquely identifies the location. It is bound into the location's
	// keys, so it must not change once data has been written.
	ID string `mapstructure:"id" yaml:"id" validate:"required"`

	// Path selects the backend: a directory, mem://name or s3://bucket/prefix.
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// AvailableSize bounds the unconsumed bytes held at this location.
	AvailableSize uint64 `mapstructure:"available_size" yaml:"available_size" validate:"gt=0"`
}

// Journal receives an audit trail of stream ranges appended and consumed per
// location. Errors are logged and never fail the pool operation.
type Journal interface {
	RecordAppend(ctx context.Context, location string, start, length uint64) error
	RecordConsume(ctx context.Context, location string, start, length uint64) error
	Reset(ctx context.Context) error
}

// Config configures Open.
type Config struct {
	Locations []Location

	// Secrets holds the device secret the pool is protected under.
	Secrets *secret.Store

	// MaxPoolAge is the maximum age of a block before it expires.
	// Zero disables expiry.
	MaxPoolAge time.Duration

	// Logger defaults to the global logger tagged component=pool.
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics metrics.PoolMetrics

	// Journal may be nil.
	Journal Journal

	// OpenStore resolves a location path to a backend. Defaults to store.Open.
	OpenStore func(ctx context.Context, path string) (block.Store, error)

	// Now defaults to time.Now.
	Now func() time.Time
}

// account is the capacity bookkeeping for one shard, guarded by Pool.mu.
type account struct {
	capacity uint64
	used     uint64 // unconsumed bytes, reserved or not
	avail    uint64 // unconsumed bytes not reserved by an in-flight Consume
	written  uint64 // cumulative bytes appended
	active   bool
}

// Pool is the random cache. See the package documentation for its locking
// discipline.
type Pool struct {
	rotMu sync.RWMutex

	mu     sync.Mutex
	acct   map[string]*account
	ready  bool
	closed bool
	poolID uuid.UUID

	shards  []*shard
	byID    map[string]*shard
	secrets *secret.Store
	maxAge  time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics metrics.PoolMetrics
	journal Journal
}

// ValidateLocations checks location IDs are unique and every location has a
// path and a non-zero size.
func ValidateLocations(locs []Location) error {
	if len(locs) == 0 {
		return poolerrors.NewInvalidArgumentError("configure", "at least one storage location is required")
	}
	seen := make(map[string]bool, len(locs))
	for _, l := range locs {
		switch {
		case l.ID == "":
			return poolerrors.NewInvalidArgumentError("configure", "location with path %q has no ID", l.Path)
		case seen[l.ID]:
			return poolerrors.NewInvalidArgumentError("configure", "duplicate location ID %q", l.ID)
		case l.Path == "":
			return poolerrors.NewInvalidArgumentError("configure", "location %q has no path", l.ID)
		case l.AvailableSize == 0:
			return poolerrors.NewInvalidArgumentError("configure", "location %q has zero available size", l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

// Open opens or creates the pool across all configured locations.
//
// Errors: InvalidArgument for a bad configuration, SystemError when a
// location cannot be opened, DataCorrupted, IncompatibleVersion or
// DeviceSecretFailed when persisted data cannot be accepted.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if err := ValidateLocations(cfg.Locations); err != nil {
		return nil, err
	}
	if cfg.Secrets == nil {
		return nil, poolerrors.NewInvalidArgumentError("open", "device secret store is required")
	}
	if cfg.OpenStore == nil {
		cfg.OpenStore = store.Open
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Component("pool")
	}

	p := &Pool{
		acct:    make(map[string]*account, len(cfg.Locations)),
		byID:    make(map[string]*shard, len(cfg.Locations)),
		secrets: cfg.Secrets,
		maxAge:  cfg.MaxPoolAge,
		now:     cfg.Now,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		journal: cfg.Journal,
	}

	now := p.now()
	for _, loc := range cfg.Locations {
		sh, err := p.openLocation(ctx, cfg.OpenStore, loc, now)
		if err != nil {
			p.closeStores()
			return nil, err
		}
		p.shards = append(p.shards, sh)
		p.byID[loc.ID] = sh
	}

	if err := p.adoptPoolID(); err != nil {
		p.closeStores()
		return nil, err
	}

	for _, sh := range p.shards {
		p.acct[sh.loc.ID] = &account{
			capacity: sh.loc.AvailableSize,
			used:     sh.meta.remaining(),
			avail:    sh.meta.remaining(),
			written:  sh.meta.written,
			active:   true,
		}
		if sh.meta.ready() {
			p.ready = true
		}
		if sh.meta.remaining() > sh.loc.AvailableSize {
			p.log.Warn("Location holds more than its configured size",
				logger.KeyLocation, sh.loc.ID,
				logger.KeyRemaining, sh.meta.remaining(),
				logger.KeyCapacity, sh.loc.AvailableSize)
		}
	}

	p.log.Info("Random pool opened",
		logger.KeyPoolID, p.poolID.String(),
		"locations", len(p.shards),
		logger.KeyRemaining, p.RemainingCapacity(),
		"ready", p.ready)
	p.publishGauges()
	return p, nil
}

func (p *Pool) openLocation(ctx context.Context, open func(context.Context, string) (block.Store, error), loc Location, now time.Time) (*shard, error) {
	st, err := open(ctx, loc.Path)
	if err != nil {
		return nil, poolerrors.NewSystemError("open", loc.ID, err)
	}

	keys, err := p.secrets.Derive(loc.ID)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sh, err := openShard(ctx, loc, store.BackendOf(loc.Path), st, keys, now, p.log)
	if err != nil {
		keys.Zero()
		_ = st.Close()
		return nil, err
	}
	return sh, nil
}

// adoptPoolID makes every shard agree on one pool ID. Shards created in this
// Open take the ID of the persisted ones; persisted shards with different IDs
// belong to different pools.
func (p *Pool) adoptPoolID() error {
	for _, sh := range p.shards {
		if !sh.persisted {
			continue
		}
		if p.poolID == uuid.Nil {
			p.poolID = sh.meta.poolID
			continue
		}
		if sh.meta.poolID != p.poolID {
			return poolerrors.NewCorruptedError("open", sh.loc.ID, "location belongs to pool %s, expected %s", sh.meta.poolID, p.poolID)
		}
	}
	if p.poolID == uuid.Nil {
		p.poolID = uuid.New()
	}
	for _, sh := range p.shards {
		if !sh.persisted {
			sh.meta.poolID = p.poolID
		}
	}
	return nil
}

// ID returns the pool identifier persisted in every location.
func (p *Pool) ID() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poolID
}

// AppendBlock encrypts data and appends it to the given location.
//
// Errors: InvalidArgument for an unknown location or empty data, SystemError
// when the write fails or the location would exceed its available size.
func (p *Pool) AppendBlock(ctx context.Context, locationID string, data []byte) error {
	if len(data) == 0 {
		return poolerrors.NewInvalidArgumentError("append", "empty block")
	}

	p.rotMu.RLock()
	defer p.rotMu.RUnlock()

	sh, ok := p.byID[locationID]
	if !ok {
		return poolerrors.NewInvalidArgumentError("append", "unknown location %q", locationID)
	}

	ctx, span := telemetry.StartPoolSpan(ctx, "append",
		telemetry.PoolID(p.ID().String()),
		telemetry.Location(locationID),
		telemetry.Backend(sh.backend),
		telemetry.Bytes(len(data)))
	defer span.End()

	start := time.Now()
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return poolerrors.RandomPoolInactive
	}
	a := p.acct[locationID]
	if a.used+uint64(len(data)) > a.capacity {
		used, capacity := a.used, a.capacity
		p.mu.Unlock()
		return &poolerrors.PoolError{
			Code:     poolerrors.ErrSystem,
			Op:       "append",
			Location: locationID,
			Message:  fmt.Sprintf("capacity exceeded: %d + %d > %d", used, len(data), capacity),
		}
	}
	p.mu.Unlock()

	ref, err := sh.append(ctx, data, p.now())
	if err != nil {
		telemetry.RecordError(ctx, err)
		p.setActive(locationID, false)
		return err
	}

	p.mu.Lock()
	a.used += uint64(len(data))
	a.avail += uint64(len(data))
	a.written += uint64(len(data))
	a.active = true
	stored := a.used
	p.mu.Unlock()

	sh.log.Log(ctx, logger.SlogLevelTrace, "Block appended", logger.KeySeq, ref.seq, logger.KeyBytes, len(data))
	if p.journal != nil {
		if err := p.journal.RecordAppend(ctx, locationID, ref.start, uint64(ref.length)); err != nil {
			p.log.Warn("Failed to journal append", logger.KeyLocation, locationID, logger.KeyError, err)
		}
	}
	if p.metrics != nil {
		p.metrics.ObserveAppend(locationID, len(data), time.Since(start))
		p.metrics.SetStored(locationID, stored)
	}
	return nil
}

type reservation struct {
	sh    *shard
	count uint64
}

// reserve claims n unreserved bytes across active shards.
func (p *Pool) reserve(n uint64) ([]reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, poolerrors.New(poolerrors.ErrRandomPoolInactive, "consume", "pool is closed")
	}

	var total uint64
	anyActive := false
	for _, sh := range p.shards {
		a := p.acct[sh.loc.ID]
		if a.active {
			anyActive = true
			total += a.avail
		}
	}
	if !anyActive {
		return nil, poolerrors.New(poolerrors.ErrRandomPoolInactive, "consume", "no storage location is reachable")
	}
	if !p.ready {
		return nil, poolerrors.New(poolerrors.ErrCacheNotReady, "consume", "initial fill has not completed")
	}
	if total < n {
		return nil, poolerrors.NewCacheNotReadyError("consume", n, total)
	}

	var plan []reservation
	left := n
	for _, sh := range p.shards {
		a := p.acct[sh.loc.ID]
		if !a.active || a.avail == 0 {
			continue
		}
		k := min(a.avail, left)
		a.avail -= k
		plan = append(plan, reservation{sh: sh, count: k})
		left -= k
		if left == 0 {
			break
		}
	}
	return plan, nil
}

// settle finalizes a reservation: consumed bytes leave the pool, untouched
// ones return to the available count.
func (p *Pool) settle(r reservation, consumed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.acct[r.sh.loc.ID]
	if consumed {
		a.used -= r.count
	} else {
		a.avail += r.count
	}
}

// Consume returns n fresh random bytes, erasing them from storage. On any
// error no bytes are returned.
//
// Errors: InvalidArgument for n == 0, CacheNotReady when the pool has never
// completed its initial fill or holds fewer than n bytes, RandomPoolExpired,
// RandomPoolInactive, DataCorrupted, SystemError.
func (p *Pool) Consume(ctx context.Context, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, poolerrors.NewInvalidArgumentError("consume", "requested zero bytes")
	}

	ctx, span := telemetry.StartPoolSpan(ctx, "consume", telemetry.Requested(n))
	defer span.End()

	p.rotMu.RLock()
	defer p.rotMu.RUnlock()
	telemetry.SetAttributes(ctx, telemetry.PoolID(p.ID().String()))

	start := time.Now()
	plan, err := p.reserve(n)
	if err != nil {
		p.recordConsumeError(ctx, err)
		return nil, err
	}

	now := p.now()
	out := make([]byte, 0, n)
	for i, r := range plan {
		if err == nil {
			var data []byte
			var offset uint64
			var mutated bool

			r.sh.mu.Lock()
			data, offset, mutated, err = r.sh.take(ctx, r.count, now, p.maxAge)
			r.sh.mu.Unlock()

			p.settle(r, mutated)
			if err == nil {
				out = append(out, data...)
				secret.Zero(data)
				if p.journal != nil {
					if jerr := p.journal.RecordConsume(ctx, r.sh.loc.ID, offset, r.count); jerr != nil {
						p.log.Warn("Failed to journal consume", logger.KeyLocation, r.sh.loc.ID, logger.KeyError, jerr)
					}
				}
				continue
			}
			if poolerrors.Is(err, poolerrors.ErrSystem) {
				p.setActive(r.sh.loc.ID, false)
			}
			p.log.Warn("Consume failed", logger.KeyLocation, r.sh.loc.ID, logger.KeyBytes, r.count, logger.KeyError, err)
			continue
		}
		// An earlier shard failed; release the remaining reservations.
		p.settle(plan[i], false)
	}

	if err != nil {
		secret.Zero(out)
		p.recordConsumeError(ctx, err)
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.ObserveConsume(len(out), time.Since(start))
		p.publishGauges()
	}
	return out, nil
}

func (p *Pool) recordConsumeError(ctx context.Context, err error) {
	telemetry.RecordError(ctx, err)
	telemetry.SetAttributes(ctx, telemetry.ErrorCode(poolerrors.CodeOf(err).String()))
	if p.metrics != nil {
		p.metrics.RecordConsumeError(poolerrors.CodeOf(err).String())
	}
}

// Allocation assigns part of a refill to a location.
type Allocation struct {
	LocationID string
	Size       uint32
}

// PlanFill splits need into chunks of at most blockSize bytes, assigning each
// chunk to the active location with the most free space. The plan never
// exceeds any location's free space, so it may cover less than need.
func (p *Pool) PlanFill(need uint64, blockSize uint32) []Allocation {
	if need == 0 || blockSize == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	free := make([]uint64, len(p.shards))
	for i, sh := range p.shards {
		a := p.acct[sh.loc.ID]
		if a.active && a.capacity > a.used {
			free[i] = a.capacity - a.used
		}
	}

	var plan []Allocation
	for need > 0 {
		best := -1
		for i := range free {
			if free[i] > 0 && (best < 0 || free[i] > free[best]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		size := min(uint64(blockSize), need, free[best])
		plan = append(plan, Allocation{LocationID: p.shards[best].loc.ID, Size: uint32(size)})
		free[best] -= size
		need -= size
	}
	return plan
}

// RemainingCapacity returns the number of unconsumed bytes in the pool.
func (p *Pool) RemainingCapacity() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remainingLocked()
}

func (p *Pool) remainingLocked() uint64 {
	var total uint64
	for _, a := range p.acct {
		total += a.used
	}
	return total
}

// TotalDownloaded returns the cumulative number of bytes ever appended since
// the pool was created or last wiped.
func (p *Pool) TotalDownloaded() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total uint64
	for _, a := range p.acct {
		total += a.written
	}
	return total
}

// Ready reports whether the pool has ever completed its initial fill. The
// flag is persisted and only cleared by Wipe.
func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// MarkReady records that the initial fill completed.
func (p *Pool) MarkReady(ctx context.Context) error {
	_, err := p.MarkReadyIfAtLeast(ctx, 0)
	return err
}

// MarkReadyIfAtLeast sets the ready flag only if the pool still holds at
// least min bytes. Capacity is re-read while Wipe is excluded, so a wipe
// between the caller's own capacity check and this call leaves the pool not
// ready. It reports whether this call made the transition.
func (p *Pool) MarkReadyIfAtLeast(ctx context.Context, min uint64) (bool, error) {
	p.rotMu.RLock()
	defer p.rotMu.RUnlock()

	p.mu.Lock()
	if p.closed || p.ready || p.remainingLocked() < min {
		p.mu.Unlock()
		return false, nil
	}
	p.mu.Unlock()

	var firstErr error
	for _, sh := range p.shards {
		sh.mu.Lock()
		err := sh.setReady(ctx)
		sh.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.mu.Lock()
	transitioned := !p.ready
	p.ready = true
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetReady(true)
	}
	return transitioned, firstErr
}

// Wipe erases all random bytes and metadata at every location. The pool stays
// open, empty and not ready, under a fresh pool ID. Wiping an empty pool is a
// no-op.
func (p *Pool) Wipe(ctx context.Context) error {
	p.rotMu.Lock()
	defer p.rotMu.Unlock()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return poolerrors.New(poolerrors.ErrRandomPoolInactive, "wipe", "pool is closed")
	}

	newID := uuid.New()
	now := p.now()
	var errs []error
	for _, sh := range p.shards {
		sh.mu.Lock()
		err := sh.wipe(ctx, newID, now)
		sh.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	p.poolID = newID
	p.ready = false
	for _, a := range p.acct {
		a.used, a.avail, a.written = 0, 0, 0
	}
	p.mu.Unlock()

	if p.journal != nil {
		if err := p.journal.Reset(ctx); err != nil {
			p.log.Warn("Failed to reset journal", logger.KeyError, err)
		}
	}
	if p.metrics != nil {
		p.metrics.SetReady(false)
	}
	p.publishGauges()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.log.Info("Random pool wiped", logger.KeyPoolID, newID.String())
	return nil
}

// PurgeExpired erases blocks older than the maximum pool age and returns the
// number of unconsumed bytes discarded.
func (p *Pool) PurgeExpired(ctx context.Context) (uint64, error) {
	if p.maxAge <= 0 {
		return 0, nil
	}

	p.rotMu.Lock()
	defer p.rotMu.Unlock()

	now := p.now()
	var total uint64
	var errs []error
	for _, sh := range p.shards {
		sh.mu.Lock()
		dropped, blocks, err := sh.purgeExpired(ctx, now, p.maxAge)
		sh.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if dropped == 0 {
			continue
		}

		p.mu.Lock()
		a := p.acct[sh.loc.ID]
		a.used -= dropped
		a.avail -= dropped
		p.mu.Unlock()

		total += dropped
		p.log.Info("Purged expired blocks", logger.KeyLocation, sh.loc.ID, logger.KeyBlocks, blocks, logger.KeyBytes, dropped)
		if p.metrics != nil {
			p.metrics.RecordPurge(sh.loc.ID, dropped)
		}
	}
	p.publishGauges()
	return total, errors.Join(errs...)
}

// Expired reports whether any location's oldest block exceeds the maximum
// pool age.
func (p *Pool) Expired() bool {
	if p.maxAge <= 0 {
		return false
	}
	now := p.now()
	for _, sh := range p.shards {
		sh.mu.Lock()
		exp := sh.expired(now, p.maxAge)
		sh.mu.Unlock()
		if exp {
			return true
		}
	}
	return false
}

// Verify re-checks the metadata and authenticates every block at every
// active location.
func (p *Pool) Verify(ctx context.Context) error {
	p.rotMu.RLock()
	defer p.rotMu.RUnlock()

	for _, sh := range p.shards {
		if !p.isActive(sh.loc.ID) {
			continue
		}
		sh.mu.Lock()
		err := sh.verify(ctx)
		sh.mu.Unlock()
		if err != nil {
			if poolerrors.Is(err, poolerrors.ErrSystem) {
				p.setActive(sh.loc.ID, false)
			}
			return err
		}
	}
	return nil
}

// Health probes every location and updates which ones take part in
// consumption and refills. It returns the probe error per location ID.
func (p *Pool) Health(ctx context.Context) map[string]error {
	out := make(map[string]error, len(p.shards))
	for _, sh := range p.shards {
		err := sh.store.HealthCheck(ctx)
		out[sh.loc.ID] = err
		if p.setActive(sh.loc.ID, err == nil) && err != nil {
			p.log.Warn("Location became unreachable", logger.KeyLocation, sh.loc.ID, logger.KeyError, err)
		}
	}
	return out
}

// Active reports the number of locations currently usable.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, a := range p.acct {
		if a.active {
			n++
		}
	}
	return n
}

func (p *Pool) isActive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acct[id].active
}

// setActive updates a location's active flag and reports whether it changed.
func (p *Pool) setActive(id string, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.acct[id]
	changed := a.active != active
	a.active = active
	return changed
}

// LocationStats describes one location for status reporting.
type LocationStats struct {
	ID         string    `json:"id"`
	Backend    string    `json:"backend"`
	Capacity   uint64    `json:"capacity"`
	Stored     uint64    `json:"stored"`
	Downloaded uint64    `json:"downloaded"`
	Blocks     int       `json:"blocks"`
	Oldest     time.Time `json:"oldest,omitempty"`
	Active     bool      `json:"active"`
}

// Stats returns a snapshot of every location.
func (p *Pool) Stats() []LocationStats {
	out := make([]LocationStats, 0, len(p.shards))
	for _, sh := range p.shards {
		sh.mu.Lock()
		blocks := len(sh.blocks)
		oldest, _ := sh.oldest()
		sh.mu.Unlock()

		p.mu.Lock()
		a := p.acct[sh.loc.ID]
		out = append(out, LocationStats{
			ID:         sh.loc.ID,
			Backend:    sh.backend,
			Capacity:   a.capacity,
			Stored:     a.used,
			Downloaded: a.written,
			Blocks:     blocks,
			Oldest:     oldest,
			Active:     a.active,
		})
		p.mu.Unlock()
	}
	return out
}

func (p *Pool) publishGauges() {
	if p.metrics == nil {
		return
	}
	for _, st := range p.Stats() {
		p.metrics.SetStored(st.ID, st.Stored)
	}
	p.metrics.SetReady(p.Ready())
}

// Close releases every location. Further operations fail with
// RandomPoolInactive.
func (p *Pool) Close() error {
	p.rotMu.Lock()
	defer p.rotMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.closeStores()
}

func (p *Pool) closeStores() error {
	var errs []error
	for _, sh := range p.shards {
		sh.mu.Lock()
		sh.keys.Zero()
		if err := sh.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close location %s: %w", sh.loc.ID, err))
		}
		sh.mu.Unlock()
	}
	return errors.Join(errs...)
}
