package metrics

import "time"

// PoolMetrics instruments the random pool.
type PoolMetrics interface {
	// ObserveAppend records a block appended at a location.
	ObserveAppend(location string, bytes int, duration time.Duration)

	// ObserveConsume records a successful consume of bytes.
	ObserveConsume(bytes int, duration time.Duration)

	// RecordConsumeError counts a failed consume by error code name.
	RecordConsumeError(code string)

	// SetStored sets the unconsumed bytes held at a location.
	SetStored(location string, bytes uint64)

	// SetReady sets the persisted readiness flag.
	SetReady(ready bool)

	// RecordPurge counts bytes discarded because they expired.
	RecordPurge(location string, bytes uint64)
}

// MaintenanceMetrics instruments the background refill loop.
type MaintenanceMetrics interface {
	// ObserveTick records one maintenance pass.
	ObserveTick(duration time.Duration, err error)

	// RecordFetch records one download from the supply source.
	RecordFetch(bytes int, duration time.Duration, err error)
}

// KeygenMetrics instruments key generation.
type KeygenMetrics interface {
	// RecordKey counts a generated key by kind ("symmetric" or
	// "asymmetric") and mode.
	RecordKey(kind, mode string, err error)
}

// LedgerMetrics instruments the audit ledger.
type LedgerMetrics interface {
	// ObserveOperation records a ledger operation and its outcome.
	ObserveOperation(op string, duration time.Duration, err error)
}

var (
	newPrometheusPoolMetrics        func() PoolMetrics
	newPrometheusMaintenanceMetrics func() MaintenanceMetrics
	newPrometheusKeygenMetrics      func() KeygenMetrics
	newPrometheusLedgerMetrics      func() LedgerMetrics
)

// RegisterPoolMetricsConstructor registers the Prometheus pool metrics
// constructor. Called by pkg/metrics/prometheus during initialization.
func RegisterPoolMetricsConstructor(c func() PoolMetrics) { newPrometheusPoolMetrics = c }

// RegisterMaintenanceMetricsConstructor registers the Prometheus maintenance
// metrics constructor.
func RegisterMaintenanceMetricsConstructor(c func() MaintenanceMetrics) {
	newPrometheusMaintenanceMetrics = c
}

// RegisterKeygenMetricsConstructor registers the Prometheus keygen metrics
// constructor.
func RegisterKeygenMetricsConstructor(c func() KeygenMetrics) { newPrometheusKeygenMetrics = c }

// RegisterLedgerMetricsConstructor registers the Prometheus ledger metrics
// constructor.
func RegisterLedgerMetricsConstructor(c func() LedgerMetrics) { newPrometheusLedgerMetrics = c }

// NewPoolMetrics returns Prometheus-backed pool metrics, or nil when metrics
// are disabled or no implementation was linked in.
//
// Example usage:
//
//	metrics.InitRegistry()
//	p, err := pool.Open(ctx, pool.Config{Metrics: metrics.NewPoolMetrics(), ...})
func NewPoolMetrics() PoolMetrics {
	if !IsEnabled() || newPrometheusPoolMetrics == nil {
		return nil
	}
	return newPrometheusPoolMetrics()
}

// NewMaintenanceMetrics returns Prometheus-backed maintenance metrics, or nil.
func NewMaintenanceMetrics() MaintenanceMetrics {
	if !IsEnabled() || newPrometheusMaintenanceMetrics == nil {
		return nil
	}
	return newPrometheusMaintenanceMetrics()
}

// NewKeygenMetrics returns Prometheus-backed keygen metrics, or nil.
func NewKeygenMetrics() KeygenMetrics {
	if !IsEnabled() || newPrometheusKeygenMetrics == nil {
		return nil
	}
	return newPrometheusKeygenMetrics()
}

// NewLedgerMetrics returns Prometheus-backed ledger metrics, or nil.
func NewLedgerMetrics() LedgerMetrics {
	if !IsEnabled() || newPrometheusLedgerMetrics == nil {
		return nil
	}
	return newPrometheusLedgerMetrics()
}
