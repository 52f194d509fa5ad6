// Package transport implements the WebSocket delivery channel: it decodes
// inbound client events into Orchestrator calls and serializes outbound
// chat.DeliveryChannel events onto the wire.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kt3v/etherialsoul-server/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	sendQueueSize = 64
)

// wireEvent is the envelope every message, inbound or outbound, is wrapped
// in: {"type": "...", "data": {...}}.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Channel is the gorilla/websocket-backed chat.DeliveryChannel for one
// connection. It owns the connection's read and write pumps and decodes
// client events into Orchestrator calls via its Run method.
type Channel struct {
	connID string
	conn   *websocket.Conn
	orch   *chat.Orchestrator
	logger *slog.Logger

	sendCh chan []byte
	live   atomic.Bool
	once   sync.Once
}

var _ chat.DeliveryChannel = (*Channel)(nil)

// NewChannel wraps an already-upgraded websocket connection.
func NewChannel(connID string, conn *websocket.Conn, orch *chat.Orchestrator, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		connID: connID,
		conn:   conn,
		orch:   orch,
		logger: logger,
		sendCh: make(chan []byte, sendQueueSize),
	}
	c.live.Store(true)
	return c
}

// Run registers the connection with the Orchestrator and blocks running the
// read and write pumps until the connection closes. Callers should invoke
// it in the goroutine handling the HTTP upgrade.
func (c *Channel) Run() {
	c.orch.Connect(c.connID, c)
	go c.writePump()
	c.readPump()
}

func (c *Channel) IsLive() bool {
	return c.live.Load()
}

func (c *Channel) SendMessageReceived(evt chat.MessageReceivedEvent) error {
	return c.emit("message_received", evt)
}

func (c *Channel) SendAIBlock(evt chat.AIBlockEvent) error {
	return c.emit("ai_block", evt)
}

func (c *Channel) SendAIComplete(evt chat.AICompleteEvent) error {
	return c.emit("ai_complete", evt)
}

func (c *Channel) SendError(evt chat.ErrorEvent) error {
	return c.emit("error", evt)
}

func (c *Channel) emit(eventType string, data any) error {
	if !c.IsLive() {
		return websocket.ErrCloseSent
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(wireEvent{Type: eventType, Data: payload})
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		c.logger.Warn("transport: send queue full, dropping frame", "conn_id", c.connID, "event", eventType)
		return nil
	}
}

func (c *Channel) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("transport: unexpected close", "conn_id", c.connID, "error", err)
			}
			return
		}
		c.handleInbound(raw)
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Channel) close() {
	c.once.Do(func() {
		c.live.Store(false)
		c.orch.Disconnect(c.connID)
		close(c.sendCh)
		_ = c.conn.Close()
	})
}
