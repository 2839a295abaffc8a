package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/randpool/internal/bytesize"
	"github.com/marmos91/randpool/pkg/api"
	"github.com/marmos91/randpool/pkg/supply"
)

// Defaults for the cache section.
const (
	DefaultMinCached           = 1 * bytesize.MiB
	DefaultMaxCached           = 16 * bytesize.MiB
	DefaultBlockSize           = 64 * bytesize.KiB
	DefaultMaintenanceInterval = 30 * time.Second
	DefaultFetchConcurrency    = 4
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyCacheDefaults(&cfg.Cache)
	applySupplyDefaults(&cfg.Supply)
	applyLedgerDefaults(&cfg.Ledger)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// applyCacheDefaults fills thresholds and timings. Locations have no
// default outside GetDefaultConfig.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.MaxCached == 0 {
		cfg.MaxCached = DefaultMaxCached
	}
	if cfg.MinCached == 0 && cfg.MaxCached >= DefaultMinCached {
		cfg.MinCached = DefaultMinCached
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.DeviceSecretFile == "" {
		cfg.DeviceSecretFile = filepath.Join(getConfigDir(), "device.secret")
	}
}

func applySupplyDefaults(cfg *SupplyConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = supply.LocalEndpoint
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(getConfigDir(), "ledger")
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
// The single default location lives under the config directory.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			Locations: []LocationConfig{{
				ID:   "local",
				Path: filepath.Join(getConfigDir(), "pool"),
				Size: 64 * bytesize.MiB,
			}},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
