package commands

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopTimeout time.Duration
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Long: `Send SIGTERM to the daemon started with 'randpool start' and wait for it
to exit. In-flight downloads are given the configured shutdown timeout.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/randpool/randpool.pid)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 45*time.Second, "How long to wait for the daemon to exit")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pid, ok := runningPID(pidPath)
	if !ok {
		_ = os.Remove(pidPath)
		return fmt.Errorf("randpool is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if _, alive := runningPID(pidPath); !alive {
			fmt.Fprintf(cmd.OutOrStdout(), "randpool stopped (PID %d)\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("randpool (PID %d) did not stop within %s", pid, stopTimeout)
}
