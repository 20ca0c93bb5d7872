package httpapi

import (
	"net/http"
	"strconv"

	"stepflow-monitor/internal/apperrors"
	"stepflow-monitor/internal/engine"
	"stepflow-monitor/internal/model"
	"stepflow-monitor/internal/store"
)

// createExecutionRequest is the POST /api/executions body (spec §6).
type createExecutionRequest struct {
	Name             string            `json:"name"`
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	Shell            bool              `json:"shell"`
	User             string            `json:"user"`
	Tags             []string          `json:"tags"`
	Metadata         map[string]any    `json:"metadata"`
	Timeout          int               `json:"timeout"`
}

// handleExecutions dispatches GET (list) and POST (create) on
// /api/executions.
func (a *API) handleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listExecutions(w, r)
	case http.MethodPost:
		a.createExecution(w, r)
	default:
		writeErr(w, apperrors.NewValidation("method %s not allowed on /api/executions", r.Method))
	}
}

func (a *API) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Status: q.Get("status"),
		User:   q.Get("user"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}

	execs, total, err := a.store.ListExecutions(f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"executions": execs,
		"total":      total,
		"limit":      f.Limit,
		"offset":     f.Offset,
	})
}

func (a *API) createExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Command == "" {
		writeErr(w, apperrors.NewValidation("command is required"))
		return
	}

	exec, err := a.engine.Start(engine.Request{
		Name:             req.Name,
		Command:          req.Command,
		Shell:            req.Shell,
		WorkingDirectory: req.WorkingDirectory,
		Environment:      req.Environment,
		User:             req.User,
		Tags:             req.Tags,
		Metadata:         req.Metadata,
		TimeoutSeconds:   req.Timeout,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, exec)
}

// handleActiveExecutions serves GET /api/executions/active: every
// execution not yet in a terminal state.
func (a *API) handleActiveExecutions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	execs, err := a.store.ListNonTerminal()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, execs)
}

// handleExecutionStatistics serves GET /api/executions/statistics.
func (a *API) handleExecutionStatistics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := a.store.GetStatistics()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// handleExecutionByID dispatches every /api/executions/{id}[...] route:
// GET the execution tree, POST .../cancel, or DELETE the execution.
func (a *API) handleExecutionByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/executions/")
	if len(parts) == 0 || parts[0] == "" {
		writeErr(w, apperrors.NewValidation("execution id is required"))
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		a.getExecution(w, id)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		a.deleteExecution(w, id)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		a.cancelExecution(w, r, id)
	default:
		writeErr(w, apperrors.NewNotFound("no route for %s %s", r.Method, r.URL.Path))
	}
}

func (a *API) getExecution(w http.ResponseWriter, id string) {
	exec, err := a.store.GetExecution(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	steps, err := a.store.GetSteps(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	artifacts, err := a.store.GetArtifacts(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	exec.Steps = steps
	exec.Artifacts = artifacts
	writeData(w, http.StatusOK, exec)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancelExecution(w http.ResponseWriter, r *http.Request, id string) {
	exec, err := a.store.GetExecution(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if exec.Status.Terminal() {
		writeErr(w, apperrors.NewConflict("execution %s is already %s", id, exec.Status))
		return
	}

	var req cancelRequest
	_ = readJSON(r, &req)
	reason := req.Reason
	if reason == "" {
		reason = "user_requested"
	}

	if err := a.engine.Cancel(id, reason); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": string(model.ExecutionRunning), "message": "cancel requested"})
}

func (a *API) deleteExecution(w http.ResponseWriter, id string) {
	exec, err := a.store.GetExecution(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !exec.Status.Terminal() {
		writeErr(w, apperrors.NewConflict("execution %s is still %s", id, exec.Status))
		return
	}
	if err := a.store.DeleteExecution(id); err != nil {
		writeErr(w, err)
		return
	}
	_ = a.logs.RemoveExecutionLogs(id)
	w.WriteHeader(http.StatusNoContent)
}
