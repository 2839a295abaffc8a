package commands

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/randpool/internal/cli/output"
	"github.com/marmos91/randpool/pkg/keygen"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/spf13/cobra"
)

var (
	symmetricMode  string
	asymmetricMode string
	keygenSize     int
	keygenEncoding string
	keygenWait     time.Duration
	keygenOutput   string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate keys from the random cache",
	Long: `Generate key material from the local random cache.

keygen opens the cache directly, so the daemon must not be running. If the
cache is still downloading, keygen waits up to --wait for it to become READY.
Every key consumes its bytes from the cache; they are never handed out again.`,
}

var keygenSymmetricCmd = &cobra.Command{
	Use:   "symmetric",
	Short: "Generate a symmetric key",
	Long: `Generate a symmetric key.

Modes:
  aes256   32-byte AES-256 key (--size is ignored)
  otp      one-time pad of --size bytes

Examples:
  randpool keygen symmetric
  randpool keygen symmetric --mode otp --size 1024 --encoding base64`,
	RunE: runKeygenSymmetric,
}

var keygenAsymmetricCmd = &cobra.Command{
	Use:   "asymmetric",
	Short: "Generate a key pair",
	Long: `Generate an asymmetric key pair seeded from the random cache.

Modes: ` + strings.Join(asymmetricModeNames(), ", ") + `

Examples:
  randpool keygen asymmetric --mode kyber
  randpool keygen asymmetric --mode ecdh --output json`,
	RunE: runKeygenAsymmetric,
}

func init() {
	for _, c := range []*cobra.Command{keygenSymmetricCmd, keygenAsymmetricCmd} {
		c.Flags().StringVar(&keygenEncoding, "encoding", "hex", "Key encoding (hex|base64)")
		c.Flags().DurationVar(&keygenWait, "wait", 30*time.Second, "How long to wait for the cache to become READY")
		c.Flags().StringVarP(&keygenOutput, "output", "o", "table", "Output format (table|json|yaml)")
	}
	keygenSymmetricCmd.Flags().StringVar(&symmetricMode, "mode", "aes256", "Symmetric mode (aes256|otp)")
	keygenSymmetricCmd.Flags().IntVar(&keygenSize, "size", 0, "Key size in bytes for otp")
	keygenAsymmetricCmd.Flags().StringVar(&asymmetricMode, "mode", "kyber", "Asymmetric mode")

	keygenCmd.AddCommand(keygenSymmetricCmd)
	keygenCmd.AddCommand(keygenAsymmetricCmd)
}

func asymmetricModeNames() []string {
	modes := keygen.AsymmetricModes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = strings.ToLower(m.String())
	}
	return names
}

// generatedKey is what keygen prints.
type generatedKey struct {
	Mode       string `json:"mode" yaml:"mode"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
	PublicKey  string `json:"public_key,omitempty" yaml:"public_key,omitempty"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
}

func (k generatedKey) Headers() []string { return []string{"Field", "Value"} }

func (k generatedKey) Rows() [][]string {
	rows := [][]string{{"mode", k.Mode}}
	if k.Key != "" {
		rows = append(rows, []string{"key", k.Key})
	}
	if k.PublicKey != "" {
		rows = append(rows, []string{"public_key", k.PublicKey}, []string{"private_key", k.PrivateKey})
	}
	return rows
}

func encodeKey(b []byte) (string, error) {
	switch strings.ToLower(keygenEncoding) {
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("invalid encoding %q (valid: hex, base64)", keygenEncoding)
	}
}

func runKeygenSymmetric(cmd *cobra.Command, args []string) error {
	mode, err := keygen.ParseSymmetricMode(symmetricMode)
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(keygenOutput)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, _, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := waitReady(ctx, c, keygenWait); err != nil {
		return err
	}
	key, err := c.GenSymmetricKey(ctx, mode, keygenSize)
	if err != nil {
		return err
	}
	defer secret.Zero(key)

	encoded, err := encodeKey(key)
	if err != nil {
		return err
	}
	return output.Print(cmd.OutOrStdout(), format, generatedKey{Mode: mode.String(), Key: encoded})
}

func runKeygenAsymmetric(cmd *cobra.Command, args []string) error {
	mode, err := keygen.ParseAsymmetricMode(asymmetricMode)
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(keygenOutput)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, _, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := waitReady(ctx, c, keygenWait); err != nil {
		return err
	}
	kp, err := c.GenAsymmetricKeys(ctx, mode)
	if err != nil {
		return err
	}
	defer kp.Zero()

	pub, err := encodeKey(kp.PublicKey)
	if err != nil {
		return err
	}
	priv, err := encodeKey(kp.PrivateKey)
	if err != nil {
		return err
	}
	return output.Print(cmd.OutOrStdout(), format, generatedKey{Mode: mode.String(), PublicKey: pub, PrivateKey: priv})
}
