package handlers

import (
	"context"
	"net/http"
	"time"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/monitor"
)

// StatusProvider reports the state of the random cache. client.Client
// implements it.
type StatusProvider interface {
	CheckCacheStatus(ctx context.Context) (monitor.CacheStatus, error)
	Report(ctx context.Context) (monitor.Report, error)
}

// HealthHandler serves the health and status endpoints.
type HealthHandler struct {
	provider  StatusProvider
	version   string
	startedAt time.Time
}

// NewHealthHandler creates a handler. provider may be nil, in which case
// only liveness is served and readiness always fails.
func NewHealthHandler(provider StatusProvider, version string) *HealthHandler {
	return &HealthHandler{provider: provider, version: version, startedAt: time.Now()}
}

// Liveness handles GET /health. It succeeds while the process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"service":    "randpool",
		"version":    h.version,
		"started_at": h.startedAt.UTC(),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	}))
}

// Readiness handles GET /health/ready. It succeeds once the cache has
// completed its initial fill and passes its integrity checks.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("random cache not configured", "", nil))
		return
	}

	st, err := h.provider.CheckCacheStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error(), poolerrors.CodeOf(err).String(), nil))
		return
	}
	if st.State != monitor.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("initial download in progress", poolerrors.ErrCacheNotReady.String(), st))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(st))
}

// Status handles GET /status with per-location and maintenance details.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "random cache not configured")
		return
	}

	report, err := h.provider.Report(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if report.Error != "" {
		writeJSON(w, http.StatusOK, unhealthyResponse(report.Error, report.ErrorCode, report))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(report))
}
