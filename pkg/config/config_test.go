package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/randpool/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func minimalConfig(dir string) string {
	return `
logging:
  level: "info"

cache:
  device_secret_file: "` + yamlSafePath(dir) + `/device.secret"
  min_cached: 1MiB
  max_cached: 8MiB
  locations:
    - id: ssd0
      path: "` + yamlSafePath(dir) + `/ssd0"
      size: 4MiB
    - id: ssd1
      path: "` + yamlSafePath(dir) + `/ssd1"
      size: 4194304
`
}

func TestLoad_DefaultConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, minimalConfig(dir)))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 9480 {
		t.Errorf("Expected API port 9480, got %d", cfg.API.Port)
	}
	if cfg.Cache.MinCached != bytesize.MiB {
		t.Errorf("Expected min_cached 1MiB, got %s", cfg.Cache.MinCached)
	}
	if cfg.Cache.MaxCached != 8*bytesize.MiB {
		t.Errorf("Expected max_cached 8MiB, got %s", cfg.Cache.MaxCached)
	}
	if cfg.Cache.BlockSize != DefaultBlockSize {
		t.Errorf("Expected default block size, got %s", cfg.Cache.BlockSize)
	}
	if cfg.Cache.MaintenanceInterval != DefaultMaintenanceInterval {
		t.Errorf("Expected default interval, got %v", cfg.Cache.MaintenanceInterval)
	}
	if len(cfg.Cache.Locations) != 2 {
		t.Fatalf("Expected 2 locations, got %d", len(cfg.Cache.Locations))
	}
	if cfg.Cache.Locations[1].Size != 4*bytesize.MiB {
		t.Errorf("Expected numeric size to decode, got %s", cfg.Cache.Locations[1].Size)
	}
	if cfg.Supply.Endpoint != "local" {
		t.Errorf("Expected local supply by default, got %q", cfg.Supply.Endpoint)
	}
}

func TestLoad_Durations(t *testing.T) {
	dir := t.TempDir()
	content := minimalConfig(dir) + `
  maintenance_interval: 5s
  max_pool_age: 720h
shutdown_timeout: 1m
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Cache.MaintenanceInterval != 5*time.Second {
		t.Errorf("Expected interval 5s, got %v", cfg.Cache.MaintenanceInterval)
	}
	if cfg.Cache.MaxPoolAge != 720*time.Hour {
		t.Errorf("Expected max age 720h, got %v", cfg.Cache.MaxPoolAge)
	}
	if cfg.ShutdownTimeout != time.Minute {
		t.Errorf("Expected shutdown timeout 1m, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults when the file is missing, got error: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level INFO, got %q", cfg.Logging.Level)
	}
	if len(cfg.Cache.Locations) != 1 {
		t.Errorf("Expected one default location, got %d", len(cfg.Cache.Locations))
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidByteSize(t *testing.T) {
	dir := t.TempDir()
	content := `
cache:
  max_cached: lots
  locations:
    - id: a
      path: "` + yamlSafePath(dir) + `"
      size: 1MiB
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("Expected error for unparseable size")
	}
}

func TestLoad_MaxAboveLocations(t *testing.T) {
	dir := t.TempDir()
	content := `
cache:
  max_cached: 2MiB
  locations:
    - id: a
      path: "` + yamlSafePath(dir) + `"
      size: 1MiB
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("Expected error when max_cached exceeds the locations")
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[logging]
level = "DEBUG"
format = "json"

[[cache.locations]]
id = "a"
path = "` + yamlSafePath(dir) + `/a"
size = "32MiB"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format json, got %q", cfg.Logging.Format)
	}
	if cfg.Cache.Locations[0].Size != 32*bytesize.MiB {
		t.Errorf("Expected 32MiB, got %s", cfg.Cache.Locations[0].Size)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("RANDPOOL_LOGGING_LEVEL", "ERROR")
	t.Setenv("RANDPOOL_API_PORT", "9999")

	cfg, err := Load(writeConfig(t, minimalConfig(t.TempDir())+"\napi:\n  port: 9480\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("Expected port 9999 from env var, got %d", cfg.API.Port)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	orig := GetDefaultConfig()
	orig.Cache.MaxPoolAge = 48 * time.Hour
	if err := SaveConfig(orig, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 && os.PathSeparator == '/' {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Cache.MaxPoolAge != 48*time.Hour {
		t.Errorf("Expected max age to survive, got %v", loaded.Cache.MaxPoolAge)
	}
	if loaded.Cache.Locations[0].Size != orig.Cache.Locations[0].Size {
		t.Errorf("Expected location size %s, got %s", orig.Cache.Locations[0].Size, loaded.Cache.Locations[0].Size)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path := GetDefaultConfigPath()
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected config.yaml, got %q", filepath.Base(path))
	}
	if filepath.Base(GetConfigDir()) != "randpool" {
		t.Errorf("Expected directory name 'randpool', got %q", filepath.Base(GetConfigDir()))
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if DefaultConfigExists() {
		t.Error("Expected no config in an empty directory")
	}
}
