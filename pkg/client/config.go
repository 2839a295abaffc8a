package client

import (
	"time"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/pool"
)

// CacheConfig describes the local random cache. It is copied by
// InitializeAsync; later changes by the caller have no effect.
type CacheConfig struct {
	// DeviceSecret protects the cache at rest. Rotate it with
	// UpdateDeviceSecret.
	DeviceSecret []byte

	// Locations hold the pool shards, in priority order for consumption.
	Locations []pool.Location

	// MaxNumCachedBytes is the level each refill tops the pool up to.
	MaxNumCachedBytes uint64

	// MinNumCachedBytes triggers a refill when remaining capacity falls
	// below it, and marks the pool ready the first time it is reached.
	MinNumCachedBytes uint64

	// MaintenanceInterval is the time between maintenance passes.
	MaintenanceInterval time.Duration

	// BlockSize caps a single download. Zero selects the scheduler default.
	BlockSize uint32

	// MaxPoolAge discards cached random older than this. Zero disables
	// expiry.
	MaxPoolAge time.Duration
}

// Validate checks the configuration invariants.
func (c *CacheConfig) Validate() error {
	if len(c.DeviceSecret) == 0 {
		return poolerrors.NewInvalidArgumentError("initialize", "device secret is required")
	}
	if err := pool.ValidateLocations(c.Locations); err != nil {
		return err
	}
	if c.MinNumCachedBytes > c.MaxNumCachedBytes {
		return poolerrors.NewInvalidArgumentError("initialize",
			"min cached bytes %d exceed max cached bytes %d", c.MinNumCachedBytes, c.MaxNumCachedBytes)
	}
	if c.MaxNumCachedBytes == 0 {
		return poolerrors.NewInvalidArgumentError("initialize", "max cached bytes must be positive")
	}

	var total uint64
	for _, loc := range c.Locations {
		total += loc.AvailableSize
	}
	if total < c.MaxNumCachedBytes {
		return poolerrors.NewInvalidArgumentError("initialize",
			"locations hold %d bytes, less than max cached bytes %d", total, c.MaxNumCachedBytes)
	}

	if c.MaintenanceInterval <= 0 {
		return poolerrors.NewInvalidArgumentError("initialize", "maintenance interval must be positive")
	}
	if c.MaxPoolAge < 0 {
		return poolerrors.NewInvalidArgumentError("initialize", "max pool age must not be negative")
	}
	return nil
}

func (c CacheConfig) clone() CacheConfig {
	c.DeviceSecret = append([]byte(nil), c.DeviceSecret...)
	c.Locations = append([]pool.Location(nil), c.Locations...)
	return c
}
