package commands

import (
	"fmt"
	"runtime"

	"github.com/marmos91/randpool/pkg/client"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "randpool %s (library %s, commit: %s, built: %s, %s/%s)\n",
			Version, client.Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
	},
}
