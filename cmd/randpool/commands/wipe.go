package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/randpool/internal/cli/prompt"
	"github.com/spf13/cobra"
)

var wipeForce bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Destroy all cached random",
	Long: `Destroy every cached random byte in all configured locations.

The cache returns to DOWNLOADING and is refilled the next time the daemon
runs. The daemon must not be running.

Examples:
  randpool wipe
  randpool wipe --force`,
	RunE: runWipe,
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeForce, "force", false, "Skip the confirmation prompt")
}

func runWipe(cmd *cobra.Command, args []string) error {
	ok, err := prompt.ConfirmWithForce("Destroy all cached random", "wipe", wipeForce)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	ctx := context.Background()
	c, _, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Wipe(ctx); err != nil {
		return fmt.Errorf("wipe failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Random cache wiped.")
	return nil
}
