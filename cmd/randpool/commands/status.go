package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/marmos91/randpool/internal/cli/output"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/monitor"
	"github.com/marmos91/randpool/pkg/pool"
	"github.com/spf13/cobra"
)

var (
	statusOutput  string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the random cache",
	Long: `Display the state of the running daemon's random cache.

This command queries the daemon's /status endpoint and shows the cache
state, remaining capacity, per-location storage and maintenance activity.

Examples:
  # Check status (port taken from the config file)
  randpool status

  # Check status with custom API port
  randpool status --api-port 9481

  # Output as JSON
  randpool status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 0, "API server port (default: api.port from config, or 9480)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// statusResponse mirrors the envelope served by /status.
type statusResponse struct {
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Data      monitor.Report `json:"data"`
}

// locationTable renders the per-location rows of a report.
type locationTable []pool.LocationStats

func (t locationTable) Headers() []string {
	return []string{"Location", "Backend", "Active", "Stored", "Capacity", "Downloaded", "Blocks", "Oldest"}
}

func (t locationTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, l := range t {
		rows = append(rows, []string{
			l.ID,
			l.Backend,
			strconv.FormatBool(l.Active),
			output.Bytes(l.Stored),
			output.Bytes(l.Capacity),
			output.Bytes(l.Downloaded),
			output.Count(int64(l.Blocks)),
			output.Ago(l.Oldest),
		})
	}
	return rows
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	port := statusAPIPort
	if port == 0 {
		port = 9480
		if cfg, err := config.Load(GetConfigFile()); err == nil {
			port = cfg.API.Port
		}
	}

	resp, err := fetchStatus(port)
	if err != nil {
		return fmt.Errorf("randpool daemon is not reachable on port %d: %w", port, err)
	}

	out := cmd.OutOrStdout()
	if format != output.FormatTable {
		return output.Print(out, format, resp)
	}
	return printStatusTable(out, resp)
}

func fetchStatus(port int) (*statusResponse, error) {
	httpClient := &http.Client{Timeout: 35 * time.Second}
	resp, err := httpClient.Get(fmt.Sprintf("http://localhost:%d/status", port))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid status response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &body, nil
}

func printStatusTable(w io.Writer, resp *statusResponse) error {
	r := resp.Data
	color := isTerminal()

	fmt.Fprintln(w)
	switch {
	case resp.Status != "healthy":
		output.Failure(w, color, fmt.Sprintf("● %s (%s)", resp.Error, resp.ErrorCode))
	case r.Status.State == monitor.StateReady:
		output.Success(w, color, "● READY")
	default:
		output.Warning(w, color, "● DOWNLOADING")
	}
	fmt.Fprintln(w)

	if err := output.SimpleTable(w, [][2]string{
		{"Remaining", output.Bytes(r.Status.RemainingCapacity)},
		{"Downloaded", output.Bytes(r.Status.TotalDownloadedRandom)},
	}); err != nil {
		return err
	}

	fmt.Fprintln(w)
	if err := output.PrintTable(w, locationTable(r.Locations)); err != nil {
		return err
	}

	if m := r.Maintenance; m != nil {
		fmt.Fprintln(w)
		pairs := [][2]string{
			{"Passes", fmt.Sprintf("%s (%s failed)", output.Count(int64(m.Ticks)), output.Count(int64(m.FailedTicks)))},
			{"Last pass", output.Ago(m.LastTick)},
			{"Fetched", output.Bytes(m.FetchedBytes)},
			{"Failed fetches", output.Count(int64(m.FailedFetches))},
		}
		if m.LastError != "" {
			pairs = append(pairs, [2]string{"Last error", fmt.Sprintf("%s (%s)", m.LastError, output.Ago(m.LastErrorAt))})
		}
		if err := output.SimpleTable(w, pairs); err != nil {
			return err
		}
	}
	fmt.Fprintln(w)
	return nil
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
