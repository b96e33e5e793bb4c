package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"timbermart/pkg/response"
)

// StorePinger reports whether the backing store is reachable.
type StorePinger func(ctx context.Context) error

// SessionCounter reports the number of live chat sessions.
type SessionCounter interface {
	SessionCount() int
}

type HealthHandler struct {
	ping     StorePinger
	sessions SessionCounter
	started  time.Time
}

func NewHealthHandler(ping StorePinger, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{
		ping:     ping,
		sessions: sessions,
		started:  time.Now(),
	}
}

func (h *HealthHandler) Check(c echo.Context) error {
	status := "healthy"
	store := "ok"

	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			status = "degraded"
			store = err.Error()
		}
	}

	data := map[string]interface{}{
		"status":         status,
		"store":          store,
		"live_sessions":  h.sessions.SessionCount(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}

	if status != "healthy" {
		return c.JSON(http.StatusServiceUnavailable, response.Response{
			Success:   false,
			Data:      data,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return response.Success(c, data)
}
