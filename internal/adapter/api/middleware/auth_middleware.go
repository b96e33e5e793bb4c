package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"timbermart/internal/infrastructure/auth"
	"timbermart/pkg/errors"
	"timbermart/pkg/response"
)

const (
	ContextUserID   = "uid"
	ContextIdentity = "identity"
)

type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires an Authorization: Bearer token.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		token, ok := bearerToken(authHeader)
		if !ok {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		return m.verify(c, next, token)
	}
}

// AuthenticateWebSocket also accepts a token query parameter, since browsers
// cannot set headers on a WebSocket handshake.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
			token, ok := bearerToken(authHeader)
			if !ok {
				return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
			}
			return m.verify(c, next, token)
		}

		if token := c.QueryParam("token"); token != "" {
			return m.verify(c, next, token)
		}
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}
}

func (m *AuthMiddleware) verify(c echo.Context, next echo.HandlerFunc, token string) error {
	identity, err := m.verifier.Verify(c.Request().Context(), token)
	if err != nil {
		return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
	}

	c.Set(ContextUserID, identity.UserID)
	c.Set(ContextIdentity, identity)
	return next(c)
}

func bearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// UserID returns the authenticated user id, or "" when unauthenticated.
func UserID(c echo.Context) string {
	uid, _ := c.Get(ContextUserID).(string)
	return uid
}
