package daemon

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/randpool/pkg/client"
	"github.com/marmos91/randpool/pkg/config"
	"github.com/marmos91/randpool/pkg/keygen"
	"github.com/marmos91/randpool/pkg/monitor"
	"github.com/marmos91/randpool/pkg/store/block/memory"
	"github.com/marmos91/randpool/pkg/supply"
)

var randomSource = supply.SourceFunc(func(_ context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	return buf, err
})

func testConfig(t *testing.T, apiPort int) *config.Config {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvDeviceSecret, "daemon-test-secret")

	name := "daemon-" + t.Name()
	t.Cleanup(func() { memory.Forget(name) })

	cfg := config.GetDefaultConfig()
	cfg.Cache.Locations = []config.LocationConfig{{ID: "mem0", Path: "mem://" + name, Size: 8192}}
	cfg.Cache.MinCached = 1000
	cfg.Cache.MaxCached = 5000
	cfg.Cache.BlockSize = 1024
	cfg.Cache.MaintenanceInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger")

	enabled := apiPort != 0
	cfg.API.Enabled = &enabled
	cfg.API.Port = apiPort
	if !enabled {
		cfg.API.Port = 9480
	}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func run(t *testing.T, d *Daemon) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	select {
	case <-d.Started():
	case err := <-done:
		stop()
		t.Fatalf("daemon failed to start: %v", err)
	case <-time.After(5 * time.Second):
		stop()
		t.Fatal("daemon did not start")
	}

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return fmt.Errorf("daemon did not stop")
		}
	}
}

func TestServeWithAPI(t *testing.T) {
	cfg := testConfig(t, 18481)
	cfg.Ledger.Enabled = true

	d := New(cfg, "test", client.WithSource(randomSource))
	stop := run(t, d)

	base := fmt.Sprintf("http://127.0.0.1:%d", 18481)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/ready")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status string         `json:"status"`
		Data   monitor.Report `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, monitor.StateReady, body.Data.Status.State)
	require.Len(t, body.Data.Locations, 1)
	assert.Equal(t, "mem0", body.Data.Locations[0].ID)

	key, err := d.Client().GenSymmetricKey(context.Background(), keygen.AES256, 0)
	require.NoError(t, err)
	assert.Len(t, key, keygen.AES256KeySize)

	assert.NoError(t, stop())
}

func TestServeWithoutAPI(t *testing.T) {
	cfg := testConfig(t, 0)

	d := New(cfg, "test", client.WithSource(randomSource))
	stop := run(t, d)

	assert.Zero(t, d.APIPort())
	require.Eventually(t, func() bool {
		st, err := d.Client().CheckCacheStatus(context.Background())
		return err == nil && st.State == monitor.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	assert.NoError(t, stop())
	assert.NoError(t, d.Serve(context.Background()), "second Serve is a no-op")
}

func TestServeMissingSecret(t *testing.T) {
	cfg := testConfig(t, 0)
	t.Setenv(config.EnvDeviceSecret, "")
	cfg.Cache.DeviceSecretFile = filepath.Join(t.TempDir(), "absent")

	err := New(cfg, "test", client.WithSource(randomSource)).Serve(context.Background())
	assert.Error(t, err)
}
