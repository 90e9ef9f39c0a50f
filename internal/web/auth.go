package web

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/jobs"
)

const ctxKeyRecord = "apiKeyRecord"

// extractKey pulls the presented key from the Authorization bearer header or
// the X-API-Key header.
func extractKey(c echo.Context) string {
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
}

// requireScope authenticates the request and checks the key grants scope.
// The validated record lands in the echo context for handlers.
func (s *Webserver) requireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := extractKey(c)
			if presented == "" {
				return respondError(c, jobs.ErrUnauthorized)
			}

			record, err := s.keys.Validate(c.Request().Context(), presented, scope)
			if err != nil {
				return respondError(c, err)
			}

			c.Set(ctxKeyRecord, record)
			return next(c)
		}
	}
}

// currentKey returns the validated key record for the request.
func currentKey(c echo.Context) *apikeys.Record {
	record, _ := c.Get(ctxKeyRecord).(*apikeys.Record)
	return record
}
