package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/randpool/pkg/metrics"
)

type keygenMetrics struct {
	keysTotal *prometheus.CounterVec
}

// NewKeygenMetrics creates Prometheus-backed key generation metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewKeygenMetrics() metrics.KeygenMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	return &keygenMetrics{
		keysTotal: promauto.With(metrics.GetRegistry()).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randpool_keys_generated_total",
				Help: "Total number of key generation requests by kind, mode and status",
			},
			[]string{"kind", "mode", "status"},
		),
	}
}

func (m *keygenMetrics) RecordKey(kind, mode string, err error) {
	if m == nil {
		return
	}
	m.keysTotal.WithLabelValues(kind, mode, status(err)).Inc()
}
