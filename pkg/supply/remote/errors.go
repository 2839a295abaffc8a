package remote

import (
	"fmt"
	"net/http"
)

// StatusError is a non-success response from the supply service.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("supply service returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("supply service returned %d", e.StatusCode)
}

// IsAuthError returns true if the service rejected the token.
func (e *StatusError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}
