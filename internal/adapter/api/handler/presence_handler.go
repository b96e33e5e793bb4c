package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"timbermart/internal/domain/entity"
	"timbermart/internal/usecase"
	"timbermart/pkg/response"
)

type PresenceHandler struct {
	presenceUseCase *usecase.PresenceUseCase
	keepAlive       time.Duration
}

func NewPresenceHandler(presenceUseCase *usecase.PresenceUseCase, keepAlive time.Duration) *PresenceHandler {
	return &PresenceHandler{
		presenceUseCase: presenceUseCase,
		keepAlive:       keepAlive,
	}
}

type keepAliveResponse struct {
	OK                     bool `json:"ok"`
	NextKeepAliveInSeconds int  `json:"next_keep_alive_in_seconds"`
}

// headerIdentity reads X-User-Type/X-User-ID and checks them against the token.
func headerIdentity(c echo.Context) (string, entity.Role, error) {
	role, err := parseRole(c.Request().Header.Get("X-User-Type"))
	if err != nil {
		return "", "", err
	}
	uid, err := requireCaller(c, c.Request().Header.Get("X-User-ID"))
	if err != nil {
		return "", "", err
	}
	return uid, role, nil
}

func (h *PresenceHandler) KeepAlive(c echo.Context) error {
	uid, role, err := headerIdentity(c)
	if err != nil {
		return response.Error(c, err)
	}

	h.presenceUseCase.Touch(uid, role)

	return c.JSON(http.StatusOK, keepAliveResponse{
		OK:                     true,
		NextKeepAliveInSeconds: int(h.keepAlive.Seconds()),
	})
}

func (h *PresenceHandler) Offline(c echo.Context) error {
	uid, role, err := headerIdentity(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.presenceUseCase.ExplicitOffline(c.Request().Context(), uid, role); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"user_id":   uid,
		"role":      role,
		"is_online": false,
	})
}

func (h *PresenceHandler) GetPresence(c echo.Context) error {
	role, err := parseRole(c.Param("user_type"))
	if err != nil {
		return response.Error(c, err)
	}

	participant, err := h.presenceUseCase.Status(c.Request().Context(), c.Param("user_id"), role)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, participant)
}
