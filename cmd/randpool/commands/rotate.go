package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/marmos91/randpool/internal/cli/prompt"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/spf13/cobra"
)

var newSecretFile string

var rotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret",
	Short: "Re-encrypt the cache under a new device secret",
	Long: `Re-encrypt every cached block under a new device secret.

The current secret is read as configured (cache.device_secret_file or
` + config.EnvDeviceSecret + `). The new secret is read from --new-secret-file,
or prompted for when the flag is omitted. On success the configured secret
file is replaced with the new secret. The daemon must not be running.

Examples:
  randpool rotate-secret
  randpool rotate-secret --new-secret-file /run/secrets/randpool`,
	RunE: runRotateSecret,
}

func init() {
	rotateSecretCmd.Flags().StringVar(&newSecretFile, "new-secret-file", "", "File holding the new device secret")
}

func readNewSecret() ([]byte, error) {
	if newSecretFile != "" {
		data, err := os.ReadFile(newSecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read new secret: %w", err)
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			return nil, fmt.Errorf("new secret file %s is empty", newSecretFile)
		}
		return data, nil
	}

	s, err := prompt.SecretWithConfirmation("New device secret", "Confirm new device secret", 16)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func runRotateSecret(cmd *cobra.Command, args []string) error {
	newSecret, err := readNewSecret()
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	defer secret.Zero(newSecret)

	ctx := context.Background()
	c, cfg, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	oldSecret, err := cfg.Cache.DeviceSecret()
	if err != nil {
		return err
	}
	defer secret.Zero(oldSecret)

	if err := c.UpdateDeviceSecret(ctx, oldSecret, newSecret); err != nil {
		return fmt.Errorf("rotation failed: %w", err)
	}

	if os.Getenv(config.EnvDeviceSecret) != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Device secret rotated. Update %s before the next start.\n", config.EnvDeviceSecret)
		return nil
	}
	if err := cfg.Cache.SaveDeviceSecret(newSecret); err != nil {
		return fmt.Errorf("cache re-encrypted but the new secret could not be saved to %s: %w", cfg.Cache.DeviceSecretFile, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Device secret rotated and saved to %s.\n", cfg.Cache.DeviceSecretFile)
	return nil
}
