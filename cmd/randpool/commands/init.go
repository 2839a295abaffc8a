package commands

import (
	"fmt"

	"github.com/marmos91/randpool/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample randpool configuration file and a random device secret.

By default, the configuration file is created at $XDG_CONFIG_HOME/randpool/config.yaml.
Use --config to specify a custom path. An existing device secret is never
overwritten, even with --force, since the cached pool is sealed under it.

Examples:
  # Initialize with default location
  randpool init

  # Initialize with custom path
  randpool init --config /etc/randpool/config.yaml

  # Force overwrite existing config
  randpool init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()

	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit cache.locations to point at your storage")
	fmt.Fprintln(out, "  2. Set supply.endpoint and supply.token_file for a remote random service")
	fmt.Fprintln(out, "  3. Start the daemon with: randpool start")
	fmt.Fprintln(out, "\nSecurity note:")
	fmt.Fprintln(out, "  The device secret file protects the cache at rest. Keep it private,")
	fmt.Fprintf(out, "  or provide the secret through %s instead.\n", config.EnvDeviceSecret)
	return nil
}
