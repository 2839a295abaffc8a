// Package errors defines the error codes returned by the random pool and the
// key generation API.
//
// Every failure that crosses the public API carries exactly one ErrorCode.
// Callers branch on codes with Is or CodeOf rather than on message text.
// This is a leaf package; it must not import any other package of this module.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the kind of failure that occurred.
type ErrorCode int

const (
	// ErrUnknown is reported for failures that carry no code.
	ErrUnknown ErrorCode = iota

	// ErrInvalidArgument indicates a malformed request or configuration.
	ErrInvalidArgument

	// ErrSystem indicates an operating system or storage failure.
	ErrSystem

	// ErrDeviceSecretFailed indicates the supplied device secret does not
	// match the secret the pool was encrypted under.
	ErrDeviceSecretFailed

	// ErrCacheNotReady indicates the pool cannot serve the request right now.
	ErrCacheNotReady

	// ErrCannotDownload indicates the random supply could not be reached.
	ErrCannotDownload

	// ErrDataCorrupted indicates persisted pool data failed an integrity check.
	ErrDataCorrupted

	// ErrRandomPoolExpired indicates the pool head is older than the maximum age.
	ErrRandomPoolExpired

	// ErrRandomPoolInactive indicates no storage location is usable.
	ErrRandomPoolInactive

	// ErrIncompatibleVersion indicates persisted data uses an unsupported format.
	ErrIncompatibleVersion
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrUnknown:
		return "UnknownError"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrSystem:
		return "SystemError"
	case ErrDeviceSecretFailed:
		return "DeviceSecretFailed"
	case ErrCacheNotReady:
		return "CacheNotReady"
	case ErrCannotDownload:
		return "CannotDownload"
	case ErrDataCorrupted:
		return "DataCorrupted"
	case ErrRandomPoolExpired:
		return "RandomPoolExpired"
	case ErrRandomPoolInactive:
		return "RandomPoolInactive"
	case ErrIncompatibleVersion:
		return "IncompatibleVersion"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// PoolError is an error carrying an ErrorCode plus optional context.
type PoolError struct {
	Code ErrorCode

	// Op is the operation that failed, e.g. "consume" or "append".
	Op string

	// Location is the storage location ID involved, if any.
	Location string

	Message string
	Err     error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Location != "" {
		msg += fmt.Sprintf(" (location: %s)", e.Location)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a PoolError with the same code. This lets
// callers compare against the sentinel values below with errors.Is.
func (e *PoolError) Is(target error) bool {
	t, ok := target.(*PoolError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Location == "" && t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels usable with the standard errors.Is.
var (
	InvalidArgument     = &PoolError{Code: ErrInvalidArgument}
	SystemError         = &PoolError{Code: ErrSystem}
	DeviceSecretFailed  = &PoolError{Code: ErrDeviceSecretFailed}
	CacheNotReady       = &PoolError{Code: ErrCacheNotReady}
	CannotDownload      = &PoolError{Code: ErrCannotDownload}
	DataCorrupted       = &PoolError{Code: ErrDataCorrupted}
	RandomPoolExpired   = &PoolError{Code: ErrRandomPoolExpired}
	RandomPoolInactive  = &PoolError{Code: ErrRandomPoolInactive}
	IncompatibleVersion = &PoolError{Code: ErrIncompatibleVersion}
)

// ============================================================================
// Factory Functions
// ============================================================================

// New creates a PoolError with a formatted message.
func New(code ErrorCode, op, format string, args ...any) *PoolError {
	return &PoolError{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error. A nil err yields nil.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PoolError{Code: code, Op: op, Err: err}
}

// WithLocation returns a copy of e bound to a storage location.
func (e *PoolError) WithLocation(id string) *PoolError {
	cp := *e
	cp.Location = id
	return &cp
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(op, format string, args ...any) *PoolError {
	return New(ErrInvalidArgument, op, format, args...)
}

// NewSystemError wraps an I/O failure at a location.
func NewSystemError(op, location string, err error) *PoolError {
	return &PoolError{Code: ErrSystem, Op: op, Location: location, Err: err}
}

// NewCorruptedError reports an integrity failure at a location.
func NewCorruptedError(op, location, format string, args ...any) *PoolError {
	return &PoolError{Code: ErrDataCorrupted, Op: op, Location: location, Message: fmt.Sprintf(format, args...)}
}

// NewCacheNotReadyError reports that the pool cannot serve n bytes.
func NewCacheNotReadyError(op string, requested, available uint64) *PoolError {
	return &PoolError{
		Code:    ErrCacheNotReady,
		Op:      op,
		Message: fmt.Sprintf("requested %d bytes, %d available", requested, available),
	}
}

// ============================================================================
// Inspection Helpers
// ============================================================================

// CodeOf returns the code carried by err, ErrUnknown if none.
func CodeOf(err error) ErrorCode {
	var pe *PoolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRetryable reports whether the failure is expected to clear on its own
// once the background maintenance catches up.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCacheNotReady, ErrCannotDownload:
		return true
	default:
		return false
	}
}
