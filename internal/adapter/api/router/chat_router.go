package router

import (
	"github.com/labstack/echo/v4"

	"timbermart/internal/adapter/api/handler"
)

func SetupChatRouter(api *echo.Group, chatHandler *handler.ChatHandler) {
	threads := api.Group("/chat-threads")

	threads.GET("/by-buyer/:user_id", chatHandler.GetThreadsByBuyer)
	threads.GET("/by-seller/:user_id", chatHandler.GetThreadsBySeller)
	threads.POST("/start-with-seller", chatHandler.StartWithSeller)
	threads.GET("/:id/messages", chatHandler.GetMessages)
	threads.POST("/:id/messages", chatHandler.SendMessage)
	threads.POST("/:id/read", chatHandler.MarkRead)

	api.GET("/unread-count", chatHandler.UnreadCount)
}
