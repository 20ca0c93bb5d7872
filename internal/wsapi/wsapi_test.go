package wsapi

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"stepflow-monitor/internal/engine"
	"stepflow-monitor/internal/hub"
	"stepflow-monitor/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub, *store.Store, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logs := store.NewLogWriter(dir)
	h := hub.New(64, nil)
	eng := engine.New(st, logs, h, engine.Config{MaxConcurrentExecutions: 10, CancelGraceSeconds: 1}, nil)

	handler := New(h, st, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, h, st, eng
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestConnectReceivesConnectionEstablished(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	conn := dial(t, srv)
	defer conn.Close()

	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "connection_established", msg.Type)
}

func TestPingReceivesPong(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	conn := dial(t, srv)
	defer conn.Close()

	var established serverMessage
	require.NoError(t, conn.ReadJSON(&established))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg.Type)
}

func TestSubscribeReturnsInitialState(t *testing.T) {
	srv, _, _, eng := newTestServer(t)
	conn := dial(t, srv)
	defer conn.Close()

	var established serverMessage
	require.NoError(t, conn.ReadJSON(&established))

	exec, err := eng.Start(engine.Request{Command: "true", Shell: true})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.ActiveCount() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "subscribe",
		"data": map[string]string{"execution_id": exec.ID},
	}))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "initial_state" {
			break
		}
	}
}

func TestGlobalEventsAreDelivered(t *testing.T) {
	srv, _, _, eng := newTestServer(t)
	conn := dial(t, srv)
	defer conn.Close()

	var established serverMessage
	require.NoError(t, conn.ReadJSON(&established))

	_, err := eng.Start(engine.Request{Command: "true", Shell: true})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	sawStarted := false
	for i := 0; i < 10 && !sawStarted; i++ {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type == "execution_started" || msg.Type == "execution_completed" {
			sawStarted = true
		}
	}
	require.True(t, sawStarted)
}

func TestUnknownMessageTypeIsIgnored(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	conn := dial(t, srv)
	defer conn.Close()

	var established serverMessage
	require.NoError(t, conn.ReadJSON(&established))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "something_unknown"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg.Type)
}

var _ http.Handler = (*Handler)(nil)
