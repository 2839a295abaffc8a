package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/randpool/internal/cli/output"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/ledger"
	"github.com/spf13/cobra"
)

var auditOutput string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify that no random was handed out twice",
	Long: `Replay the consumption ledger and check that every consumed range was
appended before and consumed exactly once.

Requires ledger.enabled in the configuration. The daemon must not be
running, since the ledger database is locked while it is open.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// auditTable renders a ledger report.
type auditTable struct{ *ledger.Report }

func (a auditTable) Headers() []string {
	return []string{"Location", "Appended", "Consumed", "Appends", "Consumes", "Violations"}
}

func (a auditTable) Rows() [][]string {
	rows := make([][]string, 0, len(a.Locations))
	for _, l := range a.Locations {
		violations := "none"
		if len(l.Violations) > 0 {
			violations = strings.Join(l.Violations, "; ")
		}
		rows = append(rows, []string{
			l.ID,
			output.Bytes(l.Appended),
			output.Bytes(l.Consumed),
			output.Count(int64(l.Appends)),
			output.Count(int64(l.Consumes)),
			violations,
		})
	}
	return rows
}

func runAudit(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(auditOutput)
	if err != nil {
		return err
	}
	if err := refuseIfRunning(); err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("the ledger is disabled; set ledger.enabled to record consumption")
	}

	l, err := ledger.Open(cfg.Ledger.LedgerOptions())
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = l.Close() }()

	report, err := l.Audit(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != output.FormatTable {
		return output.Print(out, format, report)
	}
	if err := output.PrintTable(out, auditTable{report}); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s entries replayed\n", output.Count(int64(report.Entries)))
	if !report.OK() {
		return fmt.Errorf("audit found violations")
	}
	return nil
}
