package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 200
)

// MessagePageParams is a reverse-chronological page request. BeforeSeq is the
// seq of the oldest message already held by the client, or 0 for the newest page.
type MessagePageParams struct {
	Limit     int
	BeforeSeq int64
}

// ClampMessageLimit applies the default and cap to a requested page size.
func ClampMessageLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessagePageSize
	}
	if limit > MaxMessagePageSize {
		return MaxMessagePageSize
	}
	return limit
}

// GetMessagePageParams extracts limit and before (a message seq) from the
// query string. A non-positive or unparsable before is ignored.
func GetMessagePageParams(c echo.Context) MessagePageParams {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	params := MessagePageParams{Limit: ClampMessageLimit(limit)}

	if raw := c.QueryParam("before"); raw != "" {
		if before, err := strconv.ParseInt(raw, 10, 64); err == nil && before > 0 {
			params.BeforeSeq = before
		}
	}

	return params
}
