package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/randpool/pkg/metrics"
)

func TestConstructorsDisabled(t *testing.T) {
	metrics.Reset()

	assert.Nil(t, metrics.NewPoolMetrics())
	assert.Nil(t, metrics.NewMaintenanceMetrics())
	assert.Nil(t, metrics.NewKeygenMetrics())
	assert.Nil(t, metrics.NewLedgerMetrics())
}

func TestPoolMetrics(t *testing.T) {
	metrics.Reset()
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	m := metrics.NewPoolMetrics()
	require.NotNil(t, m)
	pm := m.(*poolMetrics)

	m.ObserveAppend("a", 1024, time.Millisecond)
	m.ObserveAppend("a", 1024, time.Millisecond)
	m.ObserveConsume(32, time.Millisecond)
	m.RecordConsumeError("CacheNotReady")
	m.SetStored("a", 2048)
	m.SetReady(true)
	m.RecordPurge("a", 100)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.appendTotal.WithLabelValues("a")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(pm.appendBytes.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.consumeTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.consumeErrors.WithLabelValues("CacheNotReady")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(pm.stored.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.ready))
	assert.Equal(t, 100.0, testutil.ToFloat64(pm.purgedBytes.WithLabelValues("a")))

	m.SetReady(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.ready))
}

func TestMaintenanceMetrics(t *testing.T) {
	metrics.Reset()
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	m := metrics.NewMaintenanceMetrics().(*maintenanceMetrics)

	m.ObserveTick(time.Millisecond, nil)
	m.ObserveTick(time.Millisecond, errors.New("boom"))
	m.RecordFetch(4096, time.Millisecond, nil)
	m.RecordFetch(0, time.Millisecond, errors.New("unreachable"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticksTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticksTotal.WithLabelValues("error")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.fetchBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("error")))
}

func TestNilReceivers(t *testing.T) {
	var pm *poolMetrics
	var mm *maintenanceMetrics
	var km *keygenMetrics
	var lm *ledgerMetrics

	assert.NotPanics(t, func() {
		pm.ObserveAppend("a", 1, time.Second)
		pm.SetReady(true)
		mm.ObserveTick(time.Second, nil)
		km.RecordKey("symmetric", "AES256", nil)
		lm.ObserveOperation("append", time.Second, nil)
	})
}
