package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/randpool/internal/telemetry"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/ledger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	t.Cleanup(func() { cfgFile = "" })
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "randpool dev")
}

func TestInitCommand(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	_, err = os.Stat(cfg.Cache.DeviceSecretFile)
	assert.NoError(t, err)

	_, err = execute(t, "init", "--config", path)
	assert.Error(t, err, "init refuses to overwrite without --force")
}

func TestAuditRequiresLedger(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := execute(t, "init", "--config", path)
	require.NoError(t, err)

	_, err = execute(t, "audit", "--config", path)
	assert.ErrorContains(t, err, "ledger is disabled")
}

func TestTelemetryLocations(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{Locations: []config.LocationConfig{
		{ID: "ssd0", Path: "/var/lib/randpool"},
		{ID: "ram", Path: "mem://scratch"},
		{ID: "bucket0", Path: "s3://random-cache/device-7"},
	}}}

	assert.Equal(t, []telemetry.Location{
		{ID: "ssd0", Backend: "fs"},
		{ID: "ram", Backend: "memory"},
		{ID: "bucket0", Backend: "s3"},
	}, telemetryLocations(cfg))
}

func TestAsymmetricModeNames(t *testing.T) {
	names := asymmetricModeNames()
	assert.Contains(t, names, "kyber")
	assert.Contains(t, names, "ecdh")
}

func TestGeneratedKeyRows(t *testing.T) {
	sym := generatedKey{Mode: "AES_256", Key: "00ff"}
	assert.Equal(t, [][]string{{"mode", "AES_256"}, {"key", "00ff"}}, sym.Rows())

	pair := generatedKey{Mode: "KYBER", PublicKey: "aa", PrivateKey: "bb"}
	assert.Len(t, pair.Rows(), 3)
}

func TestEncodeKey(t *testing.T) {
	defer func() { keygenEncoding = "hex" }()

	keygenEncoding = "hex"
	s, err := encodeKey([]byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, "dead", s)

	keygenEncoding = "base64"
	s, err = encodeKey([]byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, "3q0=", s)

	keygenEncoding = "morse"
	_, err = encodeKey([]byte{1})
	assert.Error(t, err)
}

func TestTables(t *testing.T) {
	locs := locationTable{{ID: "ssd0", Backend: "fs", Capacity: 2048, Stored: 1024, Active: true}}
	rows := locs.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "ssd0", rows[0][0])
	assert.Equal(t, "1.0 KiB", rows[0][3])
	assert.Len(t, rows[0], len(locs.Headers()))

	report := &ledger.Report{Locations: []ledger.LocationReport{{ID: "ssd0", Violations: []string{"overlap"}}}}
	arows := auditTable{report}.Rows()
	require.Len(t, arows, 1)
	assert.Equal(t, "overlap", arows[0][5])
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "randpool Configuration", schema["title"])
	assert.Equal(t, false, schema["additionalProperties"])

	props := func(s map[string]any, name string) map[string]any {
		t.Helper()
		p, ok := s["properties"].(map[string]any)[name].(map[string]any)
		require.True(t, ok, name)
		return p
	}
	cache := props(schema, "cache")
	assert.Len(t, props(cache, "min_cached")["oneOf"], 2, "sizes accept numbers and strings")
	assert.Equal(t, "string", props(cache, "maintenance_interval")["type"])

	loc, ok := props(cache, "locations")["items"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, loc["properties"], "path")
	assert.Contains(t, props(schema, "supply")["properties"], "ca_cert_path")
}

func TestConfigSchemaToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.schema.json")
	t.Cleanup(func() { schemaOutput = "" })

	out, err := execute(t, "config", "schema", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := execute(t, "init", "--config", path)
	require.NoError(t, err)

	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "operating system RNG")
	assert.NotContains(t, out, "device secret unavailable")
}
