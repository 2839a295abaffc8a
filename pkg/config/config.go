package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/randpool/internal/bytesize"
	"github.com/marmos91/randpool/pkg/api"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "RANDPOOL"

// Config represents the randpool daemon configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (RANDPOOL_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics controls Prometheus metrics collection. Metrics are served
	// on the API server under /metrics.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the status API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Cache describes the random pool and its storage locations
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Supply selects the service random is downloaded from
	Supply SupplyConfig `mapstructure:"supply" yaml:"supply"`

	// Ledger configures the consumption audit journal
	Ledger LedgerConfig `mapstructure:"ledger" yaml:"ledger"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LocationConfig is one storage location as written in the config file.
type LocationConfig struct {
	// ID uniquely identifies the location. It must not change once random
	// has been stored there.
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Path is a directory, mem://name or s3://bucket/prefix
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Size bounds the unconsumed random held at this location
	// Supports human-readable formats: "512MiB", "1GB", "4096"
	Size bytesize.ByteSize `mapstructure:"size" validate:"gt=0" yaml:"size"`
}

// CacheConfig describes the random pool.
type CacheConfig struct {
	// DeviceSecretFile holds the device secret. RANDPOOL_DEVICE_SECRET
	// overrides it.
	DeviceSecretFile string `mapstructure:"device_secret_file" yaml:"device_secret_file"`

	// Locations lists the storage locations, in the order they are drained
	Locations []LocationConfig `mapstructure:"locations" validate:"required,min=1,dive" yaml:"locations"`

	// MinCached is the remaining capacity below which maintenance refills
	// Default: 1MiB
	MinCached bytesize.ByteSize `mapstructure:"min_cached" yaml:"min_cached"`

	// MaxCached is the level a refill tops the pool up to
	// Default: 16MiB
	MaxCached bytesize.ByteSize `mapstructure:"max_cached" validate:"gt=0,gtefield=MinCached" yaml:"max_cached"`

	// MaintenanceInterval is the time between maintenance passes
	// Default: 30s
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval" validate:"gt=0" yaml:"maintenance_interval"`

	// BlockSize caps the size of one download and one stored block
	// Default: 64KiB
	BlockSize bytesize.ByteSize `mapstructure:"block_size" validate:"gt=0,lte=4294967295" yaml:"block_size"`

	// MaxPoolAge discards random older than this. Zero keeps random forever.
	MaxPoolAge time.Duration `mapstructure:"max_pool_age" validate:"gte=0" yaml:"max_pool_age"`
}

// SupplyConfig selects the random supply service.
type SupplyConfig struct {
	// Endpoint is the base URL of the service, or "local" for the
	// operating system RNG
	// Default: "local"
	Endpoint string `mapstructure:"endpoint" validate:"required" yaml:"endpoint"`

	// CACertPath is an optional PEM bundle trusted in addition to the
	// system roots
	CACertPath string `mapstructure:"ca_cert_path" yaml:"ca_cert_path,omitempty"`

	// TokenFile holds the access token. RANDPOOL_SUPPLY_TOKEN overrides it.
	TokenFile string `mapstructure:"token_file" yaml:"token_file,omitempty"`

	// FetchConcurrency bounds concurrent downloads during a refill
	// Default: 4
	FetchConcurrency int `mapstructure:"fetch_concurrency" validate:"gte=0" yaml:"fetch_concurrency"`
}

// LedgerConfig configures the badger audit journal.
type LedgerConfig struct {
	// Enabled controls whether appends and consumes are journaled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the badger directory
	// Default: <config dir>/ledger
	Path string `mapstructure:"path" yaml:"path"`

	// SyncWrites fsyncs every journal entry
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RANDPOOL_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals, defaults and validates the configuration held by v.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  randpool init\n\n"+
				"Or specify a custom config file:\n"+
				"  randpool <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  randpool init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Owner read/write only: the file points at the device secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: RANDPOOL_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/randpool/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can use sizes like "64KiB", "16MiB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size: %d", v)
			}
			return bytesize.ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("negative byte size: %d", v)
			}
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			if v < 0 {
				return nil, fmt.Errorf("negative byte size: %v", v)
			}
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s", "5m" or "24h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "randpool")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "randpool")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
