package handler

import (
	"github.com/labstack/echo/v4"

	"timbermart/internal/adapter/api/middleware"
	"timbermart/internal/domain/entity"
	"timbermart/pkg/errors"
)

func parseRole(raw string) (entity.Role, error) {
	role, ok := entity.ParseRole(raw)
	if !ok {
		return "", errors.BadRequest("user_type must be buyer or seller", nil)
	}
	return role, nil
}

// requireCaller returns the authenticated user id and fails unless it equals
// the claimed one.
func requireCaller(c echo.Context, claimed string) (string, error) {
	uid := middleware.UserID(c)
	if uid == "" {
		return "", errors.Unauthorized("Authentication required", nil)
	}
	if claimed != "" && claimed != uid {
		return "", errors.Forbidden("You can only act as yourself", nil)
	}
	return uid, nil
}
