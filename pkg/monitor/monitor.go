// Package monitor derives the cache status reported to callers.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marmos91/randpool/internal/logger"
	"github.com/marmos91/randpool/internal/telemetry"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/maintenance"
	"github.com/marmos91/randpool/pkg/pool"
)

// CacheState tells whether the pool has ever completed its initial fill.
type CacheState int

const (
	// StateDownloading means the pool has not yet reached the minimum
	// number of cached bytes since it was created or wiped.
	StateDownloading CacheState = iota

	// StateReady means the pool reached the minimum at least once. It does
	// not guarantee that bytes are available right now.
	StateReady
)

func (s CacheState) String() string {
	switch s {
	case StateReady:
		return "READY"
	default:
		return "DOWNLOADING"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CacheState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CacheState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "READY":
		*s = StateReady
	case "DOWNLOADING":
		*s = StateDownloading
	default:
		return fmt.Errorf("unknown cache state %q", text)
	}
	return nil
}

// CacheStatus is the aggregate state of the random cache.
type CacheStatus struct {
	State                 CacheState `json:"state"`
	RemainingCapacity     uint64     `json:"remaining_capacity"`
	TotalDownloadedRandom uint64     `json:"total_downloaded_random"`
}

// Pool is what the monitor reads from the random pool. *pool.Pool
// implements it.
type Pool interface {
	Ready() bool
	RemainingCapacity() uint64
	TotalDownloaded() uint64
	Expired() bool
	Verify(ctx context.Context) error
	Health(ctx context.Context) map[string]error
	Stats() []pool.LocationStats
}

// Scheduler is what the monitor reads from the maintenance scheduler.
// *maintenance.Scheduler implements it.
type Scheduler interface {
	Stats() maintenance.Stats
	LastFetchFailed() bool
}

var (
	_ Pool      = (*pool.Pool)(nil)
	_ Scheduler = (*maintenance.Scheduler)(nil)
)

// Monitor computes CacheStatus on demand.
type Monitor struct {
	pool      Pool
	scheduler Scheduler
	log       *slog.Logger
}

// New creates a monitor. scheduler may be nil.
func New(p Pool, scheduler Scheduler) *Monitor {
	return &Monitor{pool: p, scheduler: scheduler, log: logger.Component("monitor")}
}

// Snapshot returns the status without running any checks.
func (m *Monitor) Snapshot() CacheStatus {
	st := CacheStatus{
		State:                 StateDownloading,
		RemainingCapacity:     m.pool.RemainingCapacity(),
		TotalDownloadedRandom: m.pool.TotalDownloaded(),
	}
	if m.pool.Ready() {
		st.State = StateReady
	}
	return st
}

// Check probes every location, re-validates the persisted data and returns
// the current status.
//
// Errors: RandomPoolInactive when no location is reachable, DataCorrupted
// when an integrity check fails, RandomPoolExpired when the oldest cached
// bytes exceed the maximum pool age.
func (m *Monitor) Check(ctx context.Context) (CacheStatus, error) {
	ctx, span := telemetry.StartPoolSpan(ctx, "check")
	defer span.End()

	start := time.Now()
	err := m.check(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		m.log.Warn("Cache status check failed",
			logger.KeyErrorCode, poolerrors.CodeOf(err).String(),
			logger.KeyError, err)
		return CacheStatus{}, err
	}

	st := m.Snapshot()
	telemetry.SetAttributes(ctx, telemetry.State(st.State.String()), telemetry.Remaining(st.RemainingCapacity))
	m.log.Debug("Cache status checked",
		logger.KeyState, st.State.String(),
		logger.KeyRemaining, st.RemainingCapacity,
		logger.KeyDurationMs, logger.Duration(start))
	return st, nil
}

func (m *Monitor) check(ctx context.Context) error {
	health := m.pool.Health(ctx)
	reachable := 0
	for _, err := range health {
		if err == nil {
			reachable++
		}
	}
	if reachable == 0 {
		return poolerrors.New(poolerrors.ErrRandomPoolInactive, "status", "none of %d locations is reachable", len(health))
	}

	if err := m.pool.Verify(ctx); err != nil {
		return err
	}

	if m.pool.Expired() {
		return poolerrors.New(poolerrors.ErrRandomPoolExpired, "status", "cached random exceeds the maximum pool age")
	}
	return nil
}

// Report is the detailed view served by the status API and the CLI.
type Report struct {
	Status      CacheStatus          `json:"status"`
	Error       string               `json:"error,omitempty"`
	ErrorCode   string               `json:"error_code,omitempty"`
	Locations   []pool.LocationStats `json:"locations"`
	Maintenance *MaintenanceReport   `json:"maintenance,omitempty"`
}

// MaintenanceReport summarizes scheduler activity.
type MaintenanceReport struct {
	Ticks           int       `json:"ticks"`
	FailedTicks     int       `json:"failed_ticks"`
	FetchedBytes    uint64    `json:"fetched_bytes"`
	FailedFetches   int       `json:"failed_fetches"`
	LastFetchFailed bool      `json:"last_fetch_failed"`
	LastTick        time.Time `json:"last_tick,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorAt     time.Time `json:"last_error_at,omitempty"`
}

// Report runs Check and gathers per-location and scheduler details. A failed
// check is reported in the result rather than returned.
func (m *Monitor) Report(ctx context.Context) Report {
	st, err := m.Check(ctx)
	r := Report{Status: st, Locations: m.pool.Stats()}
	if err != nil {
		r.Status = m.Snapshot()
		r.Error = err.Error()
		r.ErrorCode = poolerrors.CodeOf(err).String()
	}

	if m.scheduler != nil {
		s := m.scheduler.Stats()
		mr := &MaintenanceReport{
			Ticks:           s.Ticks,
			FailedTicks:     s.FailedTicks,
			FetchedBytes:    s.FetchedBytes,
			FailedFetches:   s.FailedFetches,
			LastFetchFailed: m.scheduler.LastFetchFailed(),
			LastTick:        s.LastTick,
			LastErrorAt:     s.LastErrorAt,
		}
		if s.LastError != nil {
			mr.LastError = s.LastError.Error()
		}
		r.Maintenance = mr
	}
	return r
}
