package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestClampMessageLimit(t *testing.T) {
	assert.Equal(t, 50, ClampMessageLimit(0))
	assert.Equal(t, 50, ClampMessageLimit(-3))
	assert.Equal(t, 10, ClampMessageLimit(10))
	assert.Equal(t, 200, ClampMessageLimit(500))
}

func TestGetMessagePageParams(t *testing.T) {
	e := echo.New()

	tests := []struct {
		query     string
		limit     int
		beforeSeq int64
	}{
		{"/?limit=20&before=42", 20, 42},
		{"/?before=2026-01-02T03:04:05Z", 50, 0},
		{"/?before=-1", 50, 0},
		{"/", 50, 0},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.query, nil)
		params := GetMessagePageParams(e.NewContext(req, httptest.NewRecorder()))

		assert.Equal(t, tt.limit, params.Limit, tt.query)
		assert.Equal(t, tt.beforeSeq, params.BeforeSeq, tt.query)
	}
}
