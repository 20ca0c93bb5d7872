// Package httpapi is the thin HTTP surface spec §4.G and §6 describe: it
// decodes requests, calls into internal/engine and internal/store, and
// encodes whatever they return. No execution-lifecycle or persistence
// logic lives here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"stepflow-monitor/internal/apperrors"
)

// envelope is the {success, data, error, timestamp} wire shape spec §6
// fixes for every JSON response.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *errorBody  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type errorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

// writeErr classifies err via apperrors.Classify and writes the matching
// status code and machine-readable code spec §7 maps out.
func writeErr(w http.ResponseWriter, err error) {
	status, code := apperrors.Classify(err)
	writeJSON(w, status, envelope{
		Success:   false,
		Error:     &errorBody{Code: code, Message: err.Error()},
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.NewValidation("invalid request body: %v", err)
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeErr(w, apperrors.NewValidation("method %s not allowed on %s", r.Method, r.URL.Path))
		return false
	}
	return true
}

// pathParts splits the URL path after trimming prefix, dropping empty
// trailing segments left by a trailing slash.
func pathParts(urlPath, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(urlPath, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
