package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Components that must be healthy before the process reports ready
const (
	ComponentRaft       = "raft"
	ComponentController = "controller"
	ComponentAPI        = "api"
)

var criticalComponents = []string{ComponentRaft, ComponentController, ComponentAPI}

// Report is the body of the component health endpoints
type Report struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentReport `json:"components,omitempty"`
	Message    string                     `json:"message,omitempty"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
}

// ComponentReport is one component's entry in a Report
type ComponentReport struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	Since   time.Time `json:"since,omitempty"`
}

type componentState struct {
	healthy bool
	message string
	// since is when healthy last flipped
	since time.Time
}

type healthState struct {
	mu         sync.RWMutex
	components map[string]componentState
	started    time.Time
	version    string
}

func newHealthState() *healthState {
	return &healthState{
		components: make(map[string]componentState),
		started:    time.Now(),
	}
}

var health = newHealthState()

// SetVersion sets the version reported by the health endpoints
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// UpdateComponent records a component's health. The first call registers
// the component.
func UpdateComponent(name string, healthy bool, message string) {
	health.mu.Lock()
	defer health.mu.Unlock()

	now := time.Now()
	prev, known := health.components[name]
	since := now
	if known && prev.healthy == healthy {
		since = prev.since
	}
	health.components[name] = componentState{healthy: healthy, message: message, since: since}

	v := 0.0
	if healthy {
		v = 1
	}
	ComponentHealthy.WithLabelValues(name).Set(v)
}

// Health reports every registered component. Any unhealthy component makes
// the whole report unhealthy.
func Health() Report {
	health.mu.RLock()
	defer health.mu.RUnlock()

	r := health.report("healthy")
	for name, c := range health.components {
		entry := ComponentReport{Status: "healthy", Message: c.message, Since: c.since}
		if !c.healthy {
			entry.Status = "unhealthy"
			r.Status = "unhealthy"
		}
		r.Components[name] = entry
	}
	if r.Status == "unhealthy" {
		r.Message = "unhealthy: " + strings.Join(health.unhealthy(), ", ")
	}
	return r
}

// Readiness reports the critical components only. A critical component
// that never reported counts as not ready.
func Readiness() Report {
	health.mu.RLock()
	defer health.mu.RUnlock()

	r := health.report("ready")
	var waiting []string
	for _, name := range criticalComponents {
		c, ok := health.components[name]
		switch {
		case !ok:
			r.Components[name] = ComponentReport{Status: "not registered"}
			waiting = append(waiting, name)
		case !c.healthy:
			r.Components[name] = ComponentReport{Status: "not ready", Message: c.message, Since: c.since}
			waiting = append(waiting, name)
		default:
			r.Components[name] = ComponentReport{Status: "ready", Message: c.message, Since: c.since}
		}
	}
	if len(waiting) > 0 {
		r.Status = "not_ready"
		r.Message = "waiting for " + strings.Join(waiting, ", ")
	}
	return r
}

func (h *healthState) report(status string) Report {
	return Report{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentReport, len(h.components)),
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	}
}

func (h *healthState) unhealthy() []string {
	var names []string
	for name, c := range h.components {
		if !c.healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HealthHandler serves Health, with 503 when any component is unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := Health()
		code := http.StatusOK
		if report.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

// ReadyHandler serves Readiness, with 503 until every critical component
// is healthy
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := Readiness()
		code := http.StatusOK
		if report.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health.mu.RLock()
		started := health.started
		health.mu.RUnlock()

		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
