// Package prometheus implements the metrics interfaces with Prometheus
// collectors registered on metrics.GetRegistry. Importing it for side effects
// links the implementations into the metrics constructors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/randpool/pkg/metrics"
)

func init() {
	metrics.RegisterPoolMetricsConstructor(func() metrics.PoolMetrics { return NewPoolMetrics() })
	metrics.RegisterMaintenanceMetricsConstructor(func() metrics.MaintenanceMetrics { return NewMaintenanceMetrics() })
	metrics.RegisterKeygenMetricsConstructor(func() metrics.KeygenMetrics { return NewKeygenMetrics() })
	metrics.RegisterLedgerMetricsConstructor(func() metrics.LedgerMetrics { return NewLedgerMetrics() })
}

var byteBuckets = []float64{
	32,       // a key
	1024,     // 1KB
	16384,    // 16KB
	65536,    // 64KB - default block size
	262144,   // 256KB
	1048576,  // 1MB
	16777216, // 16MB
}

var durationBuckets = []float64{
	0.1,  // 100us - memory backend
	0.5,  // 500us
	1,    // 1ms
	5,    // 5ms - local disk with fsync
	10,   // 10ms
	50,   // 50ms
	100,  // 100ms - remote object store
	500,  // 500ms
	1000, // 1s
	5000, // 5s - slow supply endpoint
}

// poolMetrics is the Prometheus implementation of metrics.PoolMetrics.
type poolMetrics struct {
	appendTotal     *prometheus.CounterVec
	appendBytes     *prometheus.CounterVec
	appendDuration  *prometheus.HistogramVec
	consumeTotal    prometheus.Counter
	consumeBytes    prometheus.Histogram
	consumeDuration prometheus.Histogram
	consumeErrors   *prometheus.CounterVec
	stored          *prometheus.GaugeVec
	ready           prometheus.Gauge
	purgedBytes     *prometheus.CounterVec
}

// NewPoolMetrics creates Prometheus-backed pool metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPoolMetrics() metrics.PoolMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &poolMetrics{
		appendTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_append_operations_total",
				Help: "Total number of blocks appended by location",
			},
			[]string{"location"},
		),
		appendBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_append_bytes_total",
				Help: "Total random bytes appended by location",
			},
			[]string{"location"},
		),
		appendDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "randpool_append_duration_milliseconds",
				Help:    "Duration of block appends in milliseconds",
				Buckets: durationBuckets,
			},
			[]string{"location"},
		),
		consumeTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "randpool_consume_operations_total",
				Help: "Total number of successful consume operations",
			},
		),
		consumeBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "randpool_consume_bytes",
				Help:    "Distribution of bytes returned per consume",
				Buckets: byteBuckets,
			},
		),
		consumeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "randpool_consume_duration_milliseconds",
				Help:    "Duration of consume operations in milliseconds",
				Buckets: durationBuckets,
			},
		),
		consumeErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_consume_errors_total",
				Help: "Total number of failed consume operations by error code",
			},
			[]string{"code"},
		),
		stored: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "randpool_stored_bytes",
				Help: "Unconsumed random bytes held by location",
			},
			[]string{"location"},
		),
		ready: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "randpool_ready",
				Help: "1 once the initial fill has completed, 0 otherwise",
			},
		),
		purgedBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_purged_bytes_total",
				Help: "Total unconsumed bytes discarded because they expired",
			},
			[]string{"location"},
		),
	}
}

func (m *poolMetrics) ObserveAppend(location string, bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.appendTotal.WithLabelValues(location).Inc()
	m.appendBytes.WithLabelValues(location).Add(float64(bytes))
	m.appendDuration.WithLabelValues(location).Observe(duration.Seconds() * 1000)
}

func (m *poolMetrics) ObserveConsume(bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.consumeTotal.Inc()
	m.consumeBytes.Observe(float64(bytes))
	m.consumeDuration.Observe(duration.Seconds() * 1000)
}

func (m *poolMetrics) RecordConsumeError(code string) {
	if m == nil {
		return
	}
	m.consumeErrors.WithLabelValues(code).Inc()
}

func (m *poolMetrics) SetStored(location string, bytes uint64) {
	if m == nil {
		return
	}
	m.stored.WithLabelValues(location).Set(float64(bytes))
}

func (m *poolMetrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.ready.Set(1)
	} else {
		m.ready.Set(0)
	}
}

func (m *poolMetrics) RecordPurge(location string, bytes uint64) {
	if m == nil || bytes == 0 {
		return
	}
	m.purgedBytes.WithLabelValues(location).Add(float64(bytes))
}
