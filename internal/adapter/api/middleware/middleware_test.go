package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timbermart/internal/infrastructure/auth"
	"timbermart/internal/infrastructure/ratelimit"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, UserID(c))
}

func TestAuthenticate(t *testing.T) {
	verifier := auth.NewJWTVerifier("secret")
	token, err := verifier.GenerateToken("sub-1", "B1", time.Hour)
	require.NoError(t, err)

	m := NewAuthMiddleware(verifier)
	e := echo.New()

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid token", "Bearer " + token, http.StatusOK, "B1"},
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, "Invalid authorization format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "Invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			require.NoError(t, m.Authenticate(okHandler)(e.NewContext(req, rec)))
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestAuthenticateWebSocket_QueryToken(t *testing.T) {
	verifier := auth.NewJWTVerifier("secret")
	token, err := verifier.GenerateToken("sub-1", "S1", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/chat/t1?token="+token, nil)
	rec := httptest.NewRecorder()

	require.NoError(t, NewAuthMiddleware(verifier).AuthenticateWebSocket(okHandler)(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "S1", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{ratelimit.ActionHTTP: {PerMinute: 2}})
	handler := RateLimit(limiter)(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e := echo.New()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		require.NoError(t, handler(e.NewContext(req, rec)))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
