package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# randpool configuration file
#
# Sizes accept plain byte counts or suffixes such as 64KiB, 16MiB or 1GB.
# Durations accept Go syntax such as 30s, 5m or 720h.
# Every key can be overridden with RANDPOOL_<SECTION>_<KEY>.

`

// InitConfig writes a sample configuration to the default location and
// returns its path. A device secret file is generated next to it unless one
// already exists.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path. Paths inside it
// are placed in the same directory.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}

	dir := filepath.Dir(path)
	cfg := GetDefaultConfig()
	cfg.Cache.DeviceSecretFile = filepath.Join(dir, "device.secret")
	cfg.Cache.Locations[0].Path = filepath.Join(dir, "pool")
	cfg.Ledger.Path = filepath.Join(dir, "ledger")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := writeDeviceSecret(cfg.Cache.DeviceSecretFile); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// writeDeviceSecret creates a random secret file. An existing file is left
// untouched since the pool on disk is sealed under it.
func writeDeviceSecret(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate device secret: %w", err)
	}
	if err := writeSecretFile(path, []byte(hex.EncodeToString(buf)+"\n")); err != nil {
		return fmt.Errorf("failed to write device secret: %w", err)
	}
	return nil
}
