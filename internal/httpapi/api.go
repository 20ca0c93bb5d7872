package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"stepflow-monitor/internal/engine"
	"stepflow-monitor/internal/hub"
	"stepflow-monitor/internal/store"
)

// API wires the HTTP surface (spec §6) to the engine and store. It holds
// no state of its own beyond those collaborators.
type API struct {
	store  *store.Store
	logs   *store.LogWriter
	engine *engine.Engine
	hub    *hub.Hub
	log    *zap.SugaredLogger

	authEnabled bool
	authToken   string
}

// New builds an API. authToken is only checked when authEnabled is true
// (spec §6/§7: AUTH_ENABLED defaults false, in which case no auth is
// applied at all).
func New(st *store.Store, logs *store.LogWriter, eng *engine.Engine, h *hub.Hub, authEnabled bool, authToken string, log *zap.SugaredLogger) *API {
	return &API{store: st, logs: logs, engine: eng, hub: h, authEnabled: authEnabled, authToken: authToken, log: log}
}

// Router builds the *http.ServeMux carrying every route in spec §6's
// table, wrapped in CORS and (when enabled) bearer-token auth.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", a.handleHealth)
	mux.HandleFunc("/api/health/status", a.handleHealthStatus)
	mux.HandleFunc("/api/health/metrics", a.handleHealthMetrics)
	mux.HandleFunc("/api/health/optimize", a.handleHealthOptimize)

	mux.HandleFunc("/api/executions/active", a.handleActiveExecutions)
	mux.HandleFunc("/api/executions/statistics", a.handleExecutionStatistics)
	mux.HandleFunc("/api/executions", a.handleExecutions)
	mux.HandleFunc("/api/executions/", a.handleExecutionByID)

	mux.HandleFunc("/api/artifacts/execution/", a.handleArtifactsForExecution)
	mux.HandleFunc("/api/artifacts/", a.handleArtifactByID)

	return a.corsMiddleware(a.authMiddleware(mux))
}

// corsMiddleware mirrors the teacher's permissive-by-default CORS
// handling, adapted down to this server's single origin-agnostic API
// (there is no dev/prod mode split here — every client gets the same
// headers).
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces a bearer token on every request when
// AUTH_ENABLED is true; it is a no-op otherwise (spec §6/§7).
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authEnabled {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != a.authToken {
			writeJSON(w, http.StatusUnauthorized, envelope{
				Success:   false,
				Error:     &errorBody{Code: "UNAUTHORIZED", Message: "missing or invalid bearer token"},
				Timestamp: time.Now().UTC(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
