package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/courier/pkg/metrics"
	"github.com/cuemby/courier/pkg/types"
)

// Version is reported by /health. It is set at build time.
var Version = "dev"

// ClusterState is the view of the cluster API the readiness check needs
type ClusterState interface {
	IsLeader() bool
	LeaderAddr() string
	ListResources(kind types.ResourceKind) ([]*types.Resource, error)
}

// Readiness is implemented by components that report when they have synced
type Readiness interface {
	Ready() bool
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	cluster    ClusterState
	controller Readiness
	mux        *http.ServeMux
	server     *http.Server
}

// NewHealthServer creates a new health check HTTP server. Either
// dependency may be nil, which reports not ready.
func NewHealthServer(cluster ClusterState, controller Readiness) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		cluster:    cluster,
		controller: controller,
		mux:        mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/health/components", metrics.HealthHandler())
	mux.Handle("/ready/components", metrics.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves the endpoints until Shutdown
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops a started server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 while the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler reports whether the process can serve subscribers: a raft
// leader is known, the store answers and the controller has synced
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string
	fail := func(msg string) {
		ready = false
		if message == "" {
			message = msg
		}
	}

	// Check 1: Raft cluster
	if hs.cluster != nil {
		if hs.cluster.IsLeader() {
			checks["raft"] = "leader"
		} else if leaderAddr := hs.cluster.LeaderAddr(); leaderAddr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
		} else {
			checks["raft"] = "no leader elected"
			fail("Waiting for leader election")
		}
	} else {
		checks["raft"] = "not initialized"
		fail("Manager not initialized")
	}

	// Check 2: Storage
	if hs.cluster != nil {
		if _, err := hs.cluster.ListResources(types.KindInstance); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			fail("Storage not accessible")
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
		fail("Storage not initialized")
	}

	// Check 3: Controller
	switch {
	case hs.controller == nil:
		checks["controller"] = "not initialized"
		fail("Controller not initialized")
	case hs.controller.Ready():
		checks["controller"] = "synced"
	default:
		checks["controller"] = "waiting for first listing"
		fail("Controller has not synced")
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
