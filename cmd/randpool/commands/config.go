package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/randpool/internal/bytesize"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/supply"
)

var schemaOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration file",
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the randpool configuration file.

Editors such as VS Code use it for completion and validation of config.yaml.

Examples:
  # Print schema to stdout
  randpool config schema

  # Save schema to file
  randpool config schema --output config.schema.json`,
	RunE: runConfigSchema,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the randpool configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  randpool config validate

  # Validate specific config file
  randpool config validate --config /etc/randpool/config.yaml`,
	RunE: runConfigValidate,
}

func init() {
	configSchemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
	configCmd.AddCommand(configSchemaCmd)
	configCmd.AddCommand(configValidateCmd)
}

// configSchema describes config.yaml. Sizes and durations are written as
// strings such as "64KiB" or "30s", so they get their own mappings.
func configSchema() *jsonschema.Schema {
	byteSizeType := reflect.TypeOf(bytesize.ByteSize(0))
	durationType := reflect.TypeOf(time.Duration(0))

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case byteSizeType:
				return &jsonschema.Schema{
					Description: "Byte count or size with a unit suffix",
					OneOf: []*jsonschema.Schema{
						{Type: "integer", Minimum: json.Number("0")},
						{Type: "string", Pattern: `^\s*[0-9.]+\s*[A-Za-z]*\s*$`},
					},
					Examples: []any{"64KiB", "16MiB", 4096},
				}
			case durationType:
				return &jsonschema.Schema{
					Type:        "string",
					Description: "Go duration",
					Pattern:     `^([0-9.]+(ns|us|µs|ms|s|m|h))+$|^0$`,
					Examples:    []any{"30s", "720h"},
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "randpool Configuration"
	schema.Description = "Configuration schema for the randpool daemon and CLI"
	return schema
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := json.MarshalIndent(configSchema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaOutput != "" {
		if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	displayPath := GetConfigFile()
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if _, err := cfg.Cache.DeviceSecret(); err != nil {
		warnings = append(warnings, fmt.Sprintf("device secret unavailable: %v", err))
	}
	if cfg.Supply.Endpoint == supply.LocalEndpoint {
		warnings = append(warnings, "random is drawn from the operating system RNG, not a supply service")
	}

	var total bytesize.ByteSize
	for _, l := range cfg.Cache.Locations {
		total += l.Size
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	fmt.Fprintf(out, "\nConfiguration summary:\n")
	fmt.Fprintf(out, "  Locations:       %d (%s)\n", len(cfg.Cache.Locations), total.Human())
	fmt.Fprintf(out, "  Supply:          %s\n", cfg.Supply.Endpoint)
	fmt.Fprintf(out, "  Ledger enabled:  %t\n", cfg.Ledger.Enabled)
	fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
