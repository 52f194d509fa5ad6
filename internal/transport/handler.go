package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/kt3v/etherialsoul-server/internal/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The frontend is served from a different origin during development
	// (Vite dev server); the relay carries no cookies or credentials, so a
	// permissive origin check does not widen the attack surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleInbound decodes one client frame and dispatches it to the
// Orchestrator (spec §6: user_message, typing_status, stop_ai_response,
// end_chat, set_chat_mode).
func (c *Channel) handleInbound(raw []byte) {
	var frame wireEvent
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.logger.Warn("transport: malformed frame", "conn_id", c.connID, "error", err)
		return
	}

	ctx := context.Background()

	switch frame.Type {
	case "user_message":
		var evt chat.UserMessageEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil {
			c.logger.Warn("transport: malformed user_message", "conn_id", c.connID, "error", err)
			return
		}
		c.orch.UserMessage(ctx, c.connID, evt.Message)

	case "typing_status":
		var evt chat.TypingStatusEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil {
			c.logger.Warn("transport: malformed typing_status", "conn_id", c.connID, "error", err)
			return
		}
		c.orch.TypingStatus(c.connID, evt.IsTyping)

	case "stop_ai_response":
		c.orch.Stop(c.connID)

	case "end_chat":
		c.orch.EndChat(c.connID)

	case "set_chat_mode":
		var evt chat.SetChatModeEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil {
			c.logger.Warn("transport: malformed set_chat_mode", "conn_id", c.connID, "error", err)
			return
		}
		if err := c.orch.SetChatMode(ctx, c.connID, evt.Mode, evt.InitialMessage); err != nil {
			_ = c.SendError(chat.ErrorEvent{Message: "invalid chat mode", Error: err.Error()})
		}

	default:
		c.logger.Warn("transport: unknown event type", "conn_id", c.connID, "type", frame.Type)
	}
}

// Handler upgrades HTTP connections to WebSocket and hands them to a new
// Channel keyed by a freshly minted connection id (spec §6: "connection
// identity ... assigned by the transport at accept time").
type Handler struct {
	orch   *chat.Orchestrator
	logger *slog.Logger
}

// NewHandler builds the upgrade handler.
func NewHandler(orch *chat.Orchestrator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, logger: logger}
}

// ServeWS is the echo handler for the WebSocket upgrade route.
func (h *Handler) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	connID := uuid.NewString()
	channel := NewChannel(connID, conn, h.orch, h.logger)
	h.logger.Info("transport: connection accepted", "conn_id", connID)

	go channel.Run()
	return nil
}
