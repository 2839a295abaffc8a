package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/randpool/pkg/metrics"
)

// maintenanceMetrics is the Prometheus implementation of
// metrics.MaintenanceMetrics.
type maintenanceMetrics struct {
	ticksTotal    *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	fetchTotal    *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration prometheus.Histogram
	lastSuccess   prometheus.Gauge
}

// NewMaintenanceMetrics creates Prometheus-backed maintenance metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewMaintenanceMetrics() metrics.MaintenanceMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &maintenanceMetrics{
		ticksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_maintenance_ticks_total",
				Help: "Total number of maintenance passes by status",
			},
			[]string{"status"},
		),
		tickDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "randpool_maintenance_tick_duration_milliseconds",
				Help:    "Duration of maintenance passes in milliseconds",
				Buckets: durationBuckets,
			},
		),
		fetchTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_supply_fetches_total",
				Help: "Total number of supply downloads by status",
			},
			[]string{"status"},
		),
		fetchBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "randpool_supply_bytes_total",
				Help: "Total random bytes downloaded from the supply source",
			},
		),
		fetchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "randpool_supply_fetch_duration_milliseconds",
				Help:    "Duration of supply downloads in milliseconds",
				Buckets: durationBuckets,
			},
		),
		lastSuccess: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "randpool_maintenance_last_success_timestamp_seconds",
				Help: "Unix time of the last maintenance pass that completed without error",
			},
		),
	}
}

func (m *maintenanceMetrics) ObserveTick(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(status(err)).Inc()
	m.tickDuration.Observe(duration.Seconds() * 1000)
	if err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *maintenanceMetrics) RecordFetch(bytes int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(status(err)).Inc()
	m.fetchDuration.Observe(duration.Seconds() * 1000)
	if err == nil && bytes > 0 {
		m.fetchBytes.Add(float64(bytes))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
