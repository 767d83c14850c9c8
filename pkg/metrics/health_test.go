package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(version string) {
	health = newHealthState()
	health.version = version
}

func allCriticalHealthy() {
	UpdateComponent(ComponentRaft, true, "leader")
	UpdateComponent(ComponentController, true, "running")
	UpdateComponent(ComponentAPI, true, "serving")
}

func TestUpdateComponent(t *testing.T) {
	resetHealth("")
	UpdateComponent("collector", true, "ok")
	first := health.components["collector"].since

	// Same state keeps the transition time; a flip resets it.
	UpdateComponent("collector", true, "still ok")
	assert.Equal(t, first, health.components["collector"].since)
	assert.Equal(t, "still ok", health.components["collector"].message)

	UpdateComponent("collector", false, "stalled")
	c := health.components["collector"]
	assert.False(t, c.healthy)
	assert.False(t, c.since.Before(first))
	assert.Equal(t, 0.0, testutil.ToFloat64(ComponentHealthy.WithLabelValues("collector")))

	UpdateComponent("collector", true, "")
	assert.Equal(t, 1.0, testutil.ToFloat64(ComponentHealthy.WithLabelValues("collector")))
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name        string
		raft        bool
		wantStatus  string
		wantMessage string
	}{
		{"all healthy", true, "healthy", ""},
		{"raft unhealthy", false, "unhealthy", "unhealthy: raft"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("1.0.0")
			UpdateComponent(ComponentAPI, true, "")
			UpdateComponent(ComponentRaft, tt.raft, "not connected")

			r := Health()
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, tt.wantMessage, r.Message)
			assert.Len(t, r.Components, 2)
			assert.Equal(t, "1.0.0", r.Version)
			assert.Equal(t, "not connected", r.Components[ComponentRaft].Message)
		})
	}
}

func TestReadiness(t *testing.T) {
	t.Run("all ready", func(t *testing.T) {
		resetHealth("")
		allCriticalHealthy()
		r := Readiness()
		assert.Equal(t, "ready", r.Status)
		assert.Empty(t, r.Message)
	})

	t.Run("missing controller", func(t *testing.T) {
		resetHealth("")
		UpdateComponent(ComponentRaft, true, "")
		UpdateComponent(ComponentAPI, true, "")

		r := Readiness()
		assert.Equal(t, "not_ready", r.Status)
		assert.Equal(t, "not registered", r.Components[ComponentController].Status)
		assert.Equal(t, "waiting for controller", r.Message)
	})

	t.Run("several waiting", func(t *testing.T) {
		resetHealth("")
		UpdateComponent(ComponentRaft, false, "leader not elected")

		r := Readiness()
		assert.Equal(t, "waiting for raft, controller, api", r.Message)
		assert.Equal(t, "not ready", r.Components[ComponentRaft].Status)
		assert.Equal(t, "leader not elected", r.Components[ComponentRaft].Message)
	})

	t.Run("non-critical components ignored", func(t *testing.T) {
		resetHealth("")
		allCriticalHealthy()
		UpdateComponent("collector", false, "stalled")
		r := Readiness()
		assert.Equal(t, "ready", r.Status)
		assert.NotContains(t, r.Components, "collector")
	})
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		healthy  bool
		wantCode int
		want     string
	}{
		{"healthy", true, http.StatusOK, "healthy"},
		{"unhealthy", false, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("test")
			UpdateComponent("test", tt.healthy, "broken")

			w := httptest.NewRecorder()
			HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health/components", nil))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var r Report
			require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, "test", r.Version)
		})
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth("")
	allCriticalHealthy()

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready/components", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	resetHealth("")
	UpdateComponent(ComponentAPI, true, "")

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready/components", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var r Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	assert.Equal(t, "not_ready", r.Status)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth("")

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
	assert.NotEmpty(t, response["uptime"])
}
