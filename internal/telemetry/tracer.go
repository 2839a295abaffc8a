package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on spans.
const (
	// ========================================================================
	// Pool attributes
	// ========================================================================
	AttrPoolID    = "pool.id"
	AttrLocation  = "pool.location"
	AttrBackend   = "pool.backend"
	AttrRequested = "pool.bytes_requested"
	AttrBytes     = "pool.bytes"
	AttrRemaining = "pool.remaining"
	AttrState     = "pool.state"
	AttrErrorCode = "pool.error_code"

	// ========================================================================
	// Maintenance attributes
	// ========================================================================
	AttrNeed        = "maintenance.need"
	AttrAllocations = "maintenance.allocations"
	AttrPurged      = "maintenance.purged"

	// ========================================================================
	// Key generation attributes
	// ========================================================================
	AttrKeyKind = "keygen.kind"
	AttrKeyMode = "keygen.mode"
	AttrKeySize = "keygen.size"

	// ========================================================================
	// Storage attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span name prefixes.
const (
	SpanPool        = "pool."
	SpanMaintenance = "maintenance."
	SpanKeygen      = "keygen."
	SpanSupply      = "supply."
	SpanStorage     = "storage."
)

// PoolID returns the pool ID attribute.
func PoolID(id string) attribute.KeyValue {
	return attribute.String(AttrPoolID, id)
}

// Location returns the storage location attribute.
func Location(id string) attribute.KeyValue {
	return attribute.String(AttrLocation, id)
}

// Backend returns the location backend attribute.
func Backend(name string) attribute.KeyValue {
	return attribute.String(AttrBackend, name)
}

// Requested returns the requested byte count attribute.
func Requested(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrRequested, int64(n))
}

// Bytes returns the transferred byte count attribute.
func Bytes(n int) attribute.KeyValue {
	return attribute.Int(AttrBytes, n)
}

// Remaining returns the remaining capacity attribute.
func Remaining(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrRemaining, int64(n))
}

// State returns the cache state attribute.
func State(s string) attribute.KeyValue {
	return attribute.String(AttrState, s)
}

// ErrorCode returns the pool error code attribute.
func ErrorCode(code string) attribute.KeyValue {
	return attribute.String(AttrErrorCode, code)
}

// Need returns the refill need attribute.
func Need(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrNeed, int64(n))
}

// Allocations returns the number of planned refill allocations.
func Allocations(n int) attribute.KeyValue {
	return attribute.Int(AttrAllocations, n)
}

// Purged returns the purged byte count attribute.
func Purged(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrPurged, int64(n))
}

// KeyKind returns the key kind attribute ("symmetric" or "asymmetric").
func KeyKind(kind string) attribute.KeyValue {
	return attribute.String(AttrKeyKind, kind)
}

// KeyMode returns the key mode attribute.
func KeyMode(mode string) attribute.KeyValue {
	return attribute.String(AttrKeyMode, mode)
}

// KeySize returns the key size attribute.
func KeySize(n int) attribute.KeyValue {
	return attribute.Int(AttrKeySize, n)
}

// Bucket returns the S3 bucket attribute.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns the storage object key attribute.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns the storage region attribute.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartPoolSpan starts a span for a pool operation.
func StartPoolSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, SpanPool+operation, trace.WithAttributes(attrs...))
}

// StartMaintenanceSpan starts a span for a maintenance pass or one of its
// steps.
func StartMaintenanceSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, SpanMaintenance+operation, trace.WithAttributes(attrs...))
}

// StartKeygenSpan starts a span for a key generation request.
func StartKeygenSpan(ctx context.Context, kind, mode string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{KeyKind(kind), KeyMode(mode)}, attrs...)
	return startSpan(ctx, SpanKeygen+kind, trace.WithAttributes(all...))
}

// StartSupplySpan starts a span for a download from the supply service.
func StartSupplySpan(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, SpanSupply+"fetch", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// StartStorageSpan starts a client span for one block store call.
func StartStorageSpan(ctx context.Context, operation, backend string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Backend(backend)}, attrs...)
	return startSpan(ctx, SpanStorage+operation, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(all...))
}
