package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/holonode/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	h := NewHealthChecker(ComponentHost, ComponentAdmin)
	h.Update(ComponentHost, true, "")
	h.Update(ComponentAdmin, true, "")
	assert.Equal(t, "healthy", h.Health().Status)

	h.Update(ComponentAdmin, false, "connection lost")
	health := h.Health()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: connection lost", health.Components[ComponentAdmin])
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{
			name:       "all critical ready",
			components: map[string]bool{ComponentHost: true, ComponentAdmin: true, ComponentApp: true},
			wantStatus: "ready",
		},
		{
			name:       "app interface missing",
			components: map[string]bool{ComponentHost: true, ComponentAdmin: true},
			wantStatus: "not_ready",
		},
		{
			name:       "host failed",
			components: map[string]bool{ComponentHost: false, ComponentAdmin: true, ComponentApp: true},
			wantStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(ComponentHost, ComponentAdmin, ComponentApp)
			for name, healthy := range tt.components {
				h.Update(name, healthy, "")
			}

			readiness := h.Readiness()
			assert.Equal(t, tt.wantStatus, readiness.Status)
			if tt.wantStatus != "ready" {
				assert.NotEmpty(t, readiness.Message)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	h := NewHealthChecker(ComponentHost)

	rec := httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.Update(ComponentHost, true, "")
	rec = httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ready", body.Components[ComponentHost])
}

func TestMuxServesMetrics(t *testing.T) {
	ZomeCallsTotal.WithLabelValues("holomess", "get_messages", CallStatusOK).Inc()

	rec := httptest.NewRecorder()
	NewMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "holonode_zome_calls_total")

	rec = httptest.NewRecorder()
	NewMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type staticLister struct {
	apps []*types.AppInfo
}

func (s staticLister) ListApps(ctx context.Context) ([]*types.AppInfo, error) {
	return s.apps, nil
}

func TestCollector(t *testing.T) {
	c := NewCollector(staticLister{apps: []*types.AppInfo{
		{InstalledAppID: "a", Status: types.AppStatusRunning},
		{InstalledAppID: "b", Status: types.AppStatusRunning},
		{InstalledAppID: "c", Status: types.AppStatusDisabled},
	}}, time.Hour)
	c.Start()
	c.Stop()

	assert.Equal(t, 2.0, testutil.ToFloat64(InstalledApps.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(InstalledApps.WithLabelValues("disabled")))
}

type failingLister struct{}

func (failingLister) ListApps(ctx context.Context) ([]*types.AppInfo, error) {
	return nil, errors.New("admin connection closed")
}

func TestCollectorListFailureMarksAdminUnhealthy(t *testing.T) {
	c := NewCollector(failingLister{}, time.Hour)
	c.Start()
	c.Stop()
	assert.NotPanics(t, c.Stop, "stop is idempotent")

	health := healthChecker.Health()
	assert.Equal(t, "unhealthy: admin connection closed", health.Components[ComponentAdmin])
	UpdateComponent(ComponentAdmin, true, "")
}
