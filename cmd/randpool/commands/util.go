package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/randpool/internal/logger"
	"github.com/marmos91/randpool/pkg/client"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/monitor"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// GetDefaultStateDir returns the default state directory path.
func GetDefaultStateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "/tmp"
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateDir, "randpool")
}

// GetDefaultPidFile returns the default PID file path.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "randpool.pid")
}

// GetDefaultLogFile returns the default log file path for daemon mode.
func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "randpool.log")
}

// runningPID returns the PID recorded in path if that process is alive.
func runningPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// On Unix, FindProcess always succeeds; signal 0 checks liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// refuseIfRunning stops offline commands from opening locations that the
// daemon has open.
func refuseIfRunning() error {
	if pid, ok := runningPID(GetDefaultPidFile()); ok {
		return fmt.Errorf("the randpool daemon is running (PID %d); stop it first with 'randpool stop'", pid)
	}
	return nil
}

// openClient loads configuration and initializes a client for offline
// commands. The caller must Close it.
func openClient(ctx context.Context) (client.Client, *config.Config, error) {
	if err := refuseIfRunning(); err != nil {
		return nil, nil, err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, nil, err
	}

	token, err := cfg.Supply.Token()
	if err != nil {
		return nil, nil, err
	}
	cacheCfg, err := cfg.ToCacheConfig()
	if err != nil {
		return nil, nil, err
	}

	c := client.New(
		client.WithEnvironment(cfg.Supply.Environment()),
		client.WithFetchConcurrency(cfg.Supply.FetchConcurrency),
		client.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	if err := c.InitializeAsync(ctx, token, cacheCfg); err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

// waitReady polls until the cache is READY or timeout elapses.
func waitReady(ctx context.Context, c client.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := c.CheckCacheStatus(ctx)
		if err != nil {
			return err
		}
		if st.State == monitor.StateReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("random cache still %s after %s", st.State, timeout)
		case <-ticker.C:
		}
	}
}
