package router

import (
	"github.com/labstack/echo/v4"

	"timbermart/internal/adapter/api/handler"
	"timbermart/internal/adapter/api/middleware"
	"timbermart/internal/infrastructure/ratelimit"
)

type Handlers struct {
	Chat      *handler.ChatHandler
	Presence  *handler.PresenceHandler
	WebSocket *handler.WebSocketHandler
	Health    *handler.HealthHandler
}

// Setup registers every route on e.
func Setup(e *echo.Echo, h Handlers, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e, h.Health)
	SetupWebSocketRouter(e, h.WebSocket, authMiddleware)

	api := e.Group("/api/v1")
	if limiter != nil {
		api.Use(middleware.RateLimit(limiter))
	}
	api.Use(authMiddleware.Authenticate)

	SetupChatRouter(api, h.Chat)
	SetupPresenceRouter(api, h.Presence)
}
