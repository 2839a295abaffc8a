package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/monitor"
)

type stubProvider struct {
	status monitor.CacheStatus
	report monitor.Report
	err    error
}

func (s *stubProvider) CheckCacheStatus(context.Context) (monitor.CacheStatus, error) {
	return s.status, s.err
}

func (s *stubProvider) Report(context.Context) (monitor.Report, error) {
	return s.report, s.err
}

func serve(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp Response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestLivenessWithoutProvider(t *testing.T) {
	h := NewHealthHandler(nil, "1.2.3")
	rec, resp := serve(t, h.Liveness)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "randpool", data["service"])
	assert.Equal(t, "1.2.3", data["version"])
}

func TestReadinessStates(t *testing.T) {
	t.Run("NoProvider", func(t *testing.T) {
		rec, resp := serve(t, NewHealthHandler(nil, "").Readiness)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", resp.Status)
	})

	t.Run("Downloading", func(t *testing.T) {
		p := &stubProvider{status: monitor.CacheStatus{State: monitor.StateDownloading}}
		rec, resp := serve(t, NewHealthHandler(p, "").Readiness)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, poolerrors.ErrCacheNotReady.String(), resp.ErrorCode)
	})

	t.Run("Corrupted", func(t *testing.T) {
		p := &stubProvider{err: poolerrors.New(poolerrors.ErrDataCorrupted, "verify", "bad tag")}
		rec, resp := serve(t, NewHealthHandler(p, "").Readiness)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, poolerrors.ErrDataCorrupted.String(), resp.ErrorCode)
	})

	t.Run("Ready", func(t *testing.T) {
		p := &stubProvider{status: monitor.CacheStatus{State: monitor.StateReady, RemainingCapacity: 42}}
		rec, resp := serve(t, NewHealthHandler(p, "").Readiness)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", resp.Status)
	})
}

func TestStatusProblem(t *testing.T) {
	p := &stubProvider{err: poolerrors.New(poolerrors.ErrRandomPoolInactive, "status", "closed")}
	rec, _ := serve(t, NewHealthHandler(p, "").Status)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))

	var prob Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prob))
	assert.Equal(t, poolerrors.ErrRandomPoolInactive.String(), prob.Code)
}

func TestStatusReportsError(t *testing.T) {
	p := &stubProvider{report: monitor.Report{Error: "location ssd0 unreachable", ErrorCode: "RandomPoolInactive"}}
	rec, resp := serve(t, NewHealthHandler(p, "").Status)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "RandomPoolInactive", resp.ErrorCode)
}
