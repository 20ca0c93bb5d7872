// Package wsapi is the single WebSocket endpoint spec §6 describes: every
// connected client is a hub.Subscriber, and this package owns the
// connection's read/write pumps and the client -> server message
// protocol (subscribe/unsubscribe/get_status/ping). Fan-out itself lives
// in internal/hub; this package only translates between hub.Event and
// the wire JSON a browser expects.
package wsapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stepflow-monitor/internal/hub"
	"stepflow-monitor/internal/model"
	"stepflow-monitor/internal/store"
)

// Timeout constants follow the same Gorilla-recommended values the
// teacher's WebSocket client uses, lightened for a JSON-chat-sized
// protocol rather than multi-megabyte graph payloads.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024

	// subscriberRate/subscriberBurst size each client's token bucket in the
	// hub (spec §4.F); events beyond it are dropped for that client, not
	// delayed. Generous enough that normal traffic stays under it.
	subscriberRate  = 50
	subscriberBurst = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the shape of every inbound message (spec §6).
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type executionRef struct {
	ExecutionID string `json:"execution_id"`
}

// serverMessage is the shape of every outbound message (spec §6):
// {type, data, timestamp}.
type serverMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves the WebSocket endpoint, wiring each connection to the
// hub and store.
type Handler struct {
	hub   *hub.Hub
	store *store.Store
	log   *zap.SugaredLogger
}

func New(h *hub.Hub, st *store.Store, log *zap.SugaredLogger) *Handler {
	return &Handler{hub: h, store: st, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warnw("websocket upgrade failed", "error", err)
		}
		return
	}

	clientID := model.NewID()
	sub := h.hub.Subscribe(clientID, subscriberRate, subscriberBurst)

	c := &client{handler: h, conn: conn, sub: sub, id: clientID}
	go c.writePump()
	c.readPump()
}

type client struct {
	handler *Handler
	conn    *websocket.Conn
	sub     *hub.Subscriber
	id      string
}

// readPump processes inbound client messages until the connection closes,
// mirroring the teacher's readPump/routeMessage split.
func (c *client) readPump() {
	defer func() {
		c.handler.hub.Unsubscribe(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.sendConnectionEstablished()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			if c.handler.log != nil {
				c.handler.log.Debugw("invalid websocket message", "client_id", c.id, "error", err)
			}
			continue
		}
		c.routeMessage(&msg)
	}
}

func (c *client) handleReadError(err error) {
	if c.handler.log == nil {
		return
	}
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		c.handler.log.Debugw("websocket read error", "client_id", c.id, "error", err)
	}
}

func (c *client) routeMessage(msg *clientMessage) {
	switch msg.Type {
	case "subscribe":
		var ref executionRef
		if json.Unmarshal(msg.Data, &ref) == nil && ref.ExecutionID != "" {
			c.handler.hub.AddTopic(c.id, hub.ExecutionTopic(ref.ExecutionID))
			c.sendInitialState(ref.ExecutionID)
		}
	case "unsubscribe":
		var ref executionRef
		if json.Unmarshal(msg.Data, &ref) == nil && ref.ExecutionID != "" {
			c.handler.hub.RemoveTopic(c.id, hub.ExecutionTopic(ref.ExecutionID))
		}
	case "get_status":
		var ref executionRef
		if json.Unmarshal(msg.Data, &ref) == nil && ref.ExecutionID != "" {
			c.sendInitialState(ref.ExecutionID)
		}
	case "ping":
		c.writeMessage(serverMessage{Type: "pong", Timestamp: time.Now().UTC()})
	default:
		if c.handler.log != nil {
			c.handler.log.Debugw("unknown websocket message type", "client_id", c.id, "type", msg.Type)
		}
	}
}

// sendConnectionEstablished writes the connection_established message
// (spec §4.F/§6) when readPump starts. The subscriber and writePump are
// already running by then, so a hub event published in between can reach
// the client first. A fresh connection is implicitly subscribed to the
// global topic by Hub.Subscribe.
func (c *client) sendConnectionEstablished() {
	c.writeMessage(serverMessage{
		Type:      "connection_established",
		Data:      map[string]string{"client_id": c.id},
		Timestamp: time.Now().UTC(),
	})
}

// sendInitialState replies to subscribe/get_status with the current
// snapshot of one execution (spec §4.F snapshot-then-delta): the
// execution row plus its steps and artifacts, read straight from the
// store since the in-memory machine only exists while the execution is
// still running.
func (c *client) sendInitialState(executionID string) {
	exec, err := c.handler.store.GetExecution(executionID)
	if err != nil {
		c.writeMessage(serverMessage{Type: "error", Data: map[string]string{"message": err.Error()}, Timestamp: time.Now().UTC()})
		return
	}
	steps, _ := c.handler.store.GetSteps(executionID)
	artifacts, _ := c.handler.store.GetArtifacts(executionID)
	exec.Steps = steps
	exec.Artifacts = artifacts

	c.writeMessage(serverMessage{Type: "initial_state", Data: exec, Timestamp: time.Now().UTC()})
}

// writeMessage is used for direct, synchronous replies (connection
// established, initial state, error) outside the subscriber fan-out
// channel that writePump otherwise drains.
func (c *client) writeMessage(msg serverMessage) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil && c.handler.log != nil {
		c.handler.log.Debugw("websocket write error", "client_id", c.id, "error", err)
	}
}

// writePump drains the subscriber's hub.Event mailbox onto the socket and
// sends periodic pings, exactly the teacher's ticker/select shape.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.writeMessage(serverMessage{Type: ev.Type, Data: ev.Data, Timestamp: ev.Timestamp})

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
