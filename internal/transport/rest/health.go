// Package rest holds the plain HTTP handlers served next to /metrics.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

// Pinger is a dependency whose reachability /health reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one Pinger in the health report.
type Check struct {
	Name   string
	Pinger Pinger
}

// HealthHandler serves /live and /health.
type HealthHandler struct {
	checks  []Check
	version string
	timeout time.Duration
}

func NewHealthHandler(version string, checks ...Check) *HealthHandler {
	checks = slices.DeleteFunc(slices.Clone(checks), func(c Check) bool { return c.Pinger == nil })
	return &HealthHandler{checks: checks, version: version, timeout: 3 * time.Second}
}

// HealthResponse is the JSON body of /live and /health.
type HealthResponse struct {
	Status     string                `json:"status"`
	Version    string                `json:"version,omitempty"`
	Components map[string]CompStatus `json:"components,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// CompStatus is the status of one checked dependency.
type CompStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Live always answers 200.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

// Health pings every check and answers 503 if any is down.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Version: h.version, Timestamp: time.Now()}
	if len(h.checks) > 0 {
		resp.Components = make(map[string]CompStatus, len(h.checks))
	}
	for _, c := range h.checks {
		start := time.Now()
		if err := c.Pinger.Ping(ctx); err != nil {
			resp.Components[c.Name] = CompStatus{Status: "down", Error: err.Error()}
			resp.Status = "down"
			continue
		}
		resp.Components[c.Name] = CompStatus{Status: "ok", Latency: time.Since(start).String()}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
