// Package handlers provides the HTTP handlers of the randpool status API.
package handlers

import (
	"encoding/json"
	"net/http"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
)

// Problem represents an RFC 7807 "problem details" response.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &Problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

// WriteError writes err as a problem response, choosing the HTTP status
// from its pool error code.
func WriteError(w http.ResponseWriter, err error) {
	code := poolerrors.CodeOf(err)
	status := StatusFor(code)
	writeProblem(w, &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
		Code:   code.String(),
	})
}

func writeProblem(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// StatusFor maps a pool error code to an HTTP status.
func StatusFor(code poolerrors.ErrorCode) int {
	switch code {
	case poolerrors.ErrInvalidArgument:
		return http.StatusBadRequest
	case poolerrors.ErrCacheNotReady, poolerrors.ErrCannotDownload, poolerrors.ErrRandomPoolInactive:
		return http.StatusServiceUnavailable
	case poolerrors.ErrRandomPoolExpired:
		return http.StatusGone
	case poolerrors.ErrDeviceSecretFailed:
		return http.StatusForbidden
	case poolerrors.ErrDataCorrupted, poolerrors.ErrIncompatibleVersion:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
