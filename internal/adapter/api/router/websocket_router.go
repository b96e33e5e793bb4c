package router

import (
	"github.com/labstack/echo/v4"

	"timbermart/internal/adapter/api/handler"
	"timbermart/internal/adapter/api/middleware"
)

func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	ws := e.Group("/ws")
	ws.GET("/chat/:thread_id", wsHandler.HandleChat, authMiddleware.AuthenticateWebSocket)
}
