package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/courier/pkg/types"
)

type fakeCluster struct {
	leader     bool
	leaderAddr string
	listErr    error
}

func (f *fakeCluster) IsLeader() bool     { return f.leader }
func (f *fakeCluster) LeaderAddr() string { return f.leaderAddr }
func (f *fakeCluster) ListResources(types.ResourceKind) ([]*types.Resource, error) {
	return nil, f.listErr
}

type fakeController bool

func (f fakeController) Ready() bool { return bool(f) }

func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request succeeds", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request fails", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "DELETE request fails", method: http.MethodDelete, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, Version, response.Version)
				assert.False(t, response.Timestamp.IsZero())
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name           string
		cluster        ClusterState
		controller     Readiness
		expectedStatus int
		checks         map[string]string
	}{
		{
			name:           "nothing initialized",
			expectedStatus: http.StatusServiceUnavailable,
			checks: map[string]string{
				"raft":       "not initialized",
				"storage":    "not initialized",
				"controller": "not initialized",
			},
		},
		{
			name:           "leader and synced",
			cluster:        &fakeCluster{leader: true},
			controller:     fakeController(true),
			expectedStatus: http.StatusOK,
			checks:         map[string]string{"raft": "leader", "storage": "ok", "controller": "synced"},
		},
		{
			name:           "follower with known leader",
			cluster:        &fakeCluster{leaderAddr: "10.0.0.1:7946"},
			controller:     fakeController(true),
			expectedStatus: http.StatusOK,
			checks:         map[string]string{"raft": "follower (leader: 10.0.0.1:7946)"},
		},
		{
			name:           "no leader elected",
			cluster:        &fakeCluster{},
			controller:     fakeController(true),
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"raft": "no leader elected"},
		},
		{
			name:           "storage failing",
			cluster:        &fakeCluster{leader: true, listErr: errors.New("disk gone")},
			controller:     fakeController(true),
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"storage": "error: disk gone"},
		},
		{
			name:           "controller not synced",
			cluster:        &fakeCluster{leader: true},
			controller:     fakeController(false),
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"controller": "waiting for first listing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthServer(tt.cluster, tt.controller)
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()

			hs.readyHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			for k, v := range tt.checks {
				assert.Equal(t, v, response.Checks[k], k)
			}
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "ready", response.Status)
				assert.Empty(t, response.Message)
			} else {
				assert.Equal(t, "not ready", response.Status)
				assert.NotEmpty(t, response.Message)
			}
		})
	}
}

func TestReadyHandlerMethodValidation(t *testing.T) {
	hs := NewHealthServer(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthServerRoutes(t *testing.T) {
	hs := NewHealthServer(&fakeCluster{leader: true}, fakeController(true))

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusOK},
		{path: "/live", expectedStatus: http.StatusOK},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	handler := hs.GetHandler()
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestHealthServerConcurrency(t *testing.T) {
	hs := NewHealthServer(&fakeCluster{leader: true}, fakeController(true))

	done := make(chan int, 20)
	for i := 0; i < 10; i++ {
		go func() {
			w := httptest.NewRecorder()
			hs.healthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			done <- w.Code
		}()
		go func() {
			w := httptest.NewRecorder()
			hs.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			done <- w.Code
		}()
	}

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, <-done)
	}
}

func BenchmarkReadyHandler(b *testing.B) {
	hs := NewHealthServer(&fakeCluster{leader: true}, fakeController(true))
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.readyHandler(w, req)
	}
}
