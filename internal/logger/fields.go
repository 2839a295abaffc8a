package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently so logs
// from the pool, the scheduler and the CLI can be queried together.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Component & Operation
	// ========================================================================
	KeyComponent = "component" // pool, maintenance, keygen, client, api
	KeyOperation = "operation" // consume, append, tick, rotate, wipe
	KeyState     = "state"     // DOWNLOADING, READY

	// ========================================================================
	// Pool & Storage
	// ========================================================================
	KeyLocation  = "location"  // Storage location ID
	KeyPath      = "path"      // Storage location path
	KeyPoolID    = "pool_id"   // Pool UUID persisted in shard metadata
	KeySeq       = "seq"       // Block sequence number
	KeyBlocks    = "blocks"    // Number of blocks touched
	KeyBackend   = "backend"   // fs, memory, s3
	KeyCapacity  = "capacity"  // Configured available size
	KeyRemaining = "remaining" // Unconsumed bytes

	// ========================================================================
	// Byte accounting
	// ========================================================================
	KeyBytes      = "bytes"
	KeyRequested  = "requested"
	KeyAvailable  = "available"
	KeyDownloaded = "downloaded"
	KeyConsumed   = "consumed"
	KeyMin        = "min"
	KeyMax        = "max"

	// ========================================================================
	// Supply
	// ========================================================================
	KeyEndpoint = "endpoint"
	KeyAttempt  = "attempt"

	// ========================================================================
	// Key generation
	// ========================================================================
	KeyMode    = "mode"
	KeyKeySize = "key_size"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
)

// Location returns a slog.Attr for a storage location ID
func Location(id string) slog.Attr {
	return slog.String(KeyLocation, id)
}

// Bytes returns a slog.Attr for a byte count
func Bytes(n uint64) slog.Attr {
	return slog.Uint64(KeyBytes, n)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
