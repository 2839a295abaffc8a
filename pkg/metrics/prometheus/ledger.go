package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/randpool/pkg/metrics"
)

// ledgerMetrics is the Prometheus implementation for the BadgerDB audit
// ledger.
type ledgerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewLedgerMetrics creates Prometheus-backed ledger metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewLedgerMetrics() metrics.LedgerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &ledgerMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_ledger_operations_total",
				Help: "Total number of BadgerDB ledger operations by operation and status",
			},
			[]string{"operation", "status"}, // "append", "consume", "reset", "scan"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "randpool_ledger_operation_duration_milliseconds",
				Help:    "Duration of BadgerDB ledger operations in milliseconds",
				Buckets: durationBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (m *ledgerMetrics) ObserveOperation(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, status(err)).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds() * 1000)
}
