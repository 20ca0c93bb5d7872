package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"stepflow-monitor/internal/apperrors"
)

// handleArtifactByID dispatches GET /api/artifacts/{id} and
// GET /api/artifacts/{id}/download.
func (a *API) handleArtifactByID(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	parts := pathParts(r.URL.Path, "/api/artifacts/")
	if len(parts) == 0 || parts[0] == "" {
		writeErr(w, apperrors.NewValidation("artifact id is required"))
		return
	}
	id := parts[0]

	artifact, err := a.store.GetArtifact(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	if len(parts) == 2 && parts[1] == "download" {
		a.downloadArtifact(w, artifact.ResolvedPath, artifact.FileName, artifact.MimeType)
		return
	}
	writeData(w, http.StatusOK, artifact)
}

func (a *API) downloadArtifact(w http.ResponseWriter, path, fileName, mimeType string) {
	f, err := os.Open(path)
	if err != nil {
		writeErr(w, apperrors.NewNotFound("artifact file %s: %v", fileName, err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeErr(w, apperrors.NewIOError("stat artifact file %s: %v", fileName, err))
		return
	}

	if mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, fileName))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// handleArtifactsForExecution serves GET /api/artifacts/execution/{id}.
func (a *API) handleArtifactsForExecution(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	parts := pathParts(r.URL.Path, "/api/artifacts/execution/")
	if len(parts) == 0 || parts[0] == "" {
		writeErr(w, apperrors.NewValidation("execution id is required"))
		return
	}
	artifacts, err := a.store.GetArtifacts(parts[0])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, artifacts)
}
