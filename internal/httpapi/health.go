package httpapi

import (
	"net/http"
	"time"

	"stepflow-monitor/internal/metrics"
	"stepflow-monitor/version"
)

var startedAt = time.Now()

// handleHealth serves GET /api/health: a cheap liveness probe.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": time.Since(startedAt).Seconds(),
		"version":        version.Get().Version,
	})
}

// handleHealthStatus serves GET /api/health/status: liveness plus store
// and hub counters, for an operator dashboard rather than a load balancer
// probe.
func (a *API) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := a.store.GetStatistics()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"uptime_seconds":     time.Since(startedAt).Seconds(),
		"version":            version.Get().Version,
		"active_executions":  a.engine.ActiveCount(),
		"connected_clients":  a.hub.SubscriberCount(),
		"store_statistics":   stats,
	})
}

// handleHealthMetrics serves GET /api/health/metrics: a point-in-time
// resource snapshot (spec's domain-stack gopsutil wiring).
func (a *API) handleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := metrics.Sample(a.engine.ActiveCount(), a.hub.SubscriberCount())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

// handleHealthOptimize serves POST /api/health/optimize, triggering the
// store's maintenance pass (spec §4.B).
func (a *API) handleHealthOptimize(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := a.store.Optimize(); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "optimized"})
}
