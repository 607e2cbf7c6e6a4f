package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame is the wire format for application events in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// EventHandler processes one inbound application event on a connection.
type EventHandler func(c *Client, data json.RawMessage)

const maxMessageSize = 64 * 1024

// Client is one live websocket connection admitted by the gateway.
type Client struct {
	id       string
	identity *Identity
	gw       *Gateway
	conn     *websocket.Conn

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// room names this connection joined; guarded by the gateway hub lock.
	rooms map[string]struct{}
}

func newClient(id string, identity *Identity, gw *Gateway, conn *websocket.Conn) *Client {
	return &Client{
		id:       id,
		identity: identity,
		gw:       gw,
		conn:     conn,
		send:     make(chan []byte, gw.cfg.SendBufferSize),
		closed:   make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

// ID returns the transport-assigned connection identifier.
func (c *Client) ID() string { return c.id }

// Identity returns the identity attached at authentication.
func (c *Client) Identity() *Identity { return c.identity }

// Emit queues an event for this connection. Delivery is best-effort: when
// the send buffer is full the frame is dropped rather than blocking the
// caller.
func (c *Client) Emit(event string, data any) {
	payload, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		c.gw.logger.Warn("marshal outbound frame",
			zap.String("connection_id", c.id), zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// EmitError sends the error event consumed by clients on auth or
// authorization failures mid-session.
func (c *Client) EmitError(message string) {
	c.Emit("error", map[string]string{"message": message})
}

func (c *Client) enqueue(payload []byte) {
	select {
	case <-c.closed:
	case c.send <- payload:
	default:
		c.gw.logger.Warn("send buffer full, dropping frame", zap.String("connection_id", c.id))
	}
}

// close tears down the underlying socket. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// readPump reads frames until the connection errors or closes, dispatching
// each through the gateway. It owns the read side: pong handling refreshes
// both the read deadline and the presence record.
func (c *Client) readPump() {
	defer c.gw.removeClient(c, "transport closed")

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait()))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.gw.cfg.PongWait()))
		c.gw.touch(c.id)
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.gw.logger.Warn("read error", zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Event == "" {
			c.gw.logger.Warn("dropping malformed frame", zap.String("connection_id", c.id))
			continue
		}
		c.gw.dispatch(c, frame)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

const writeWait = 5 * time.Second
