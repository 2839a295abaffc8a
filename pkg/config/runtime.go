package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/randpool/pkg/client"
	"github.com/marmos91/randpool/pkg/ledger"
	"github.com/marmos91/randpool/pkg/pool"
	"github.com/marmos91/randpool/pkg/supply"
)

// Environment variables holding secrets that are never written to the
// config file.
const (
	EnvDeviceSecret = EnvPrefix + "_DEVICE_SECRET"
	EnvSupplyToken  = EnvPrefix + "_SUPPLY_TOKEN"
)

// DeviceSecret returns the device secret from RANDPOOL_DEVICE_SECRET or,
// when unset, from the secret file. Surrounding whitespace is ignored.
func (c *CacheConfig) DeviceSecret() ([]byte, error) {
	if v := os.Getenv(EnvDeviceSecret); v != "" {
		return []byte(v), nil
	}
	if c.DeviceSecretFile == "" {
		return nil, fmt.Errorf("no device secret: set %s or cache.device_secret_file", EnvDeviceSecret)
	}
	data, err := os.ReadFile(c.DeviceSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read device secret: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("device secret file %s is empty", c.DeviceSecretFile)
	}
	return data, nil
}

// SaveDeviceSecret replaces the secret file. The file is swapped in with a
// rename, so a crash leaves either the old or the new secret in place.
func (c *CacheConfig) SaveDeviceSecret(secret []byte) error {
	if c.DeviceSecretFile == "" {
		return fmt.Errorf("no device secret file configured")
	}
	return writeSecretFile(c.DeviceSecretFile, append(bytes.Clone(secret), '\n'))
}

func writeSecretFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary secret file: %w", err)
	}
	tmpPath := f.Name()
	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync secret file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace secret file: %w", err)
	}
	return nil
}

// PoolLocations converts the configured locations.
func (c *CacheConfig) PoolLocations() []pool.Location {
	locs := make([]pool.Location, len(c.Locations))
	for i, l := range c.Locations {
		locs[i] = pool.Location{ID: l.ID, Path: l.Path, AvailableSize: uint64(l.Size)}
	}
	return locs
}

// ToCacheConfig builds the client configuration, reading the device secret.
func (c *Config) ToCacheConfig() (client.CacheConfig, error) {
	secret, err := c.Cache.DeviceSecret()
	if err != nil {
		return client.CacheConfig{}, err
	}
	return client.CacheConfig{
		DeviceSecret:        secret,
		Locations:           c.Cache.PoolLocations(),
		MaxNumCachedBytes:   uint64(c.Cache.MaxCached),
		MinNumCachedBytes:   uint64(c.Cache.MinCached),
		MaintenanceInterval: c.Cache.MaintenanceInterval,
		BlockSize:           uint32(c.Cache.BlockSize),
		MaxPoolAge:          c.Cache.MaxPoolAge,
	}, nil
}

// Token returns the supply access token from RANDPOOL_SUPPLY_TOKEN or the
// token file. An empty token is returned for the local supply.
func (s *SupplyConfig) Token() (string, error) {
	if v := os.Getenv(EnvSupplyToken); v != "" {
		return v, nil
	}
	if s.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read supply token: %w", err)
	}
	return string(bytes.TrimSpace(data)), nil
}

// Environment returns the supply selection without the token.
func (s *SupplyConfig) Environment() supply.Environment {
	return supply.Environment{Endpoint: s.Endpoint, CACertPath: s.CACertPath}
}

// LedgerOptions returns the badger ledger options.
func (l *LedgerConfig) LedgerOptions() ledger.Config {
	return ledger.Config{Path: l.Path, SyncWrites: l.SyncWrites}
}
