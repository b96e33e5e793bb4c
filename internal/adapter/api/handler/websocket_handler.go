package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	ws "timbermart/internal/infrastructure/websocket"
	"timbermart/internal/usecase"
	"timbermart/pkg/logger"
	"timbermart/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub         *ws.Hub
	chatUseCase *usecase.ChatUseCase
}

func NewWebSocketHandler(hub *ws.Hub, chatUseCase *usecase.ChatUseCase) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		chatUseCase: chatUseCase,
	}
}

// HandleChat authorises the caller for the thread before upgrading, then hands
// the connection to the hub.
func (h *WebSocketHandler) HandleChat(c echo.Context) error {
	threadID := c.Param("thread_id")

	role, err := parseRole(c.QueryParam("user_type"))
	if err != nil {
		return response.Error(c, err)
	}
	uid, err := requireCaller(c, c.QueryParam("user_id"))
	if err != nil {
		return response.Error(c, err)
	}

	if _, err := h.chatUseCase.AuthorizeParticipant(c.Request().Context(), threadID, uid, role); err != nil {
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed for %s %s: %v", role, uid, err)
		return nil
	}

	if _, err := h.hub.Attach(c.Request().Context(), conn, threadID, uid, role); err != nil {
		logger.Warn("WebSocket attach failed for %s %s on thread %s: %v", role, uid, threadID, err)
	}
	return nil
}
