package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepflow-monitor/internal/engine"
	"stepflow-monitor/internal/hub"
	"stepflow-monitor/internal/store"
)

func newTestAPI(t *testing.T) (*API, *store.Store, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logs := store.NewLogWriter(dir)
	h := hub.New(64, nil)
	eng := engine.New(st, logs, h, engine.Config{
		MaxConcurrentExecutions: 10,
		MaxLineBytes:            65536,
		CancelGraceSeconds:      1,
		StepLogBufferSize:       64,
	}, nil)
	api := New(st, logs, eng, h, false, "", nil)
	return api, st, eng
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestCreateAndGetExecution(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	body, _ := json.Marshal(map[string]any{"command": "echo hello", "shell": true})
	req := httptest.NewRequest(http.MethodPost, "/api/executions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	env := decodeEnvelope(t, w.Body.Bytes())
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	id := data["id"].(string)
	require.NotEmpty(t, id)

	req = httptest.NewRequest(http.MethodGet, "/api/executions/"+id, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateExecutionRejectsEmptyCommand(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	body, _ := json.Marshal(map[string]any{"command": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/executions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w.Body.Bytes())
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
}

func TestGetUnknownExecutionReturns404(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/executions/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelTerminalExecutionReturns409(t *testing.T) {
	api, st, _ := newTestAPI(t)
	router := api.Router()

	body, _ := json.Marshal(map[string]any{"command": "true", "shell": true})
	req := httptest.NewRequest(http.MethodPost, "/api/executions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	env := decodeEnvelope(t, w.Body.Bytes())
	id := env.Data.(map[string]any)["id"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := st.GetExecution(id)
		if err == nil && e.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/executions/"+id+"/cancel", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestListExecutionsFiltersByStatus(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/executions?status=pending&limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w.Body.Bytes())
	require.True(t, env.Success)
}

func TestHealthEndpoint(t *testing.T) {
	api, _, _ := newTestAPI(t)
	router := api.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w.Body.Bytes())
	data := env.Data.(map[string]any)
	assert.Equal(t, "healthy", data["status"])
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	defer st.Close()
	logs := store.NewLogWriter(dir)
	h := hub.New(64, nil)
	eng := engine.New(st, logs, h, engine.Config{MaxConcurrentExecutions: 10}, nil)
	api := New(st, logs, eng, h, true, "secret-token", nil)
	router := api.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteExecutionCascades(t *testing.T) {
	api, st, _ := newTestAPI(t)
	router := api.Router()

	body, _ := json.Marshal(map[string]any{"command": "true", "shell": true})
	req := httptest.NewRequest(http.MethodPost, "/api/executions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	env := decodeEnvelope(t, w.Body.Bytes())
	id := env.Data.(map[string]any)["id"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := st.GetExecution(id)
		if err == nil && e.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/executions/"+id, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, err := st.GetExecution(id)
	require.Error(t, err)
}
