package router

import (
	"github.com/labstack/echo/v4"

	"timbermart/internal/adapter/api/handler"
)

func SetupPresenceRouter(api *echo.Group, presenceHandler *handler.PresenceHandler) {
	api.POST("/keep-alive", presenceHandler.KeepAlive)

	presence := api.Group("/presence")
	presence.POST("/offline", presenceHandler.Offline)
	presence.GET("/:user_type/:user_id", presenceHandler.GetPresence)
}
