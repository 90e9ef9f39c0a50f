package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/spoolworks/mediaspool/internal/jobs"
)

// respondError maps the orchestration error taxonomy onto HTTP statuses.
func respondError(c echo.Context, err error) error {
	var rle *jobs.RateLimitError
	if errors.As(err, &rle) {
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		return c.JSON(http.StatusTooManyRequests, errorBody("rate_limited", err))
	}

	switch {
	case errors.Is(err, jobs.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", err))
	case errors.Is(err, jobs.ErrAdmissionDenied):
		return c.JSON(http.StatusTooManyRequests, errorBody("admission_denied", err))
	case errors.Is(err, jobs.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err))
	case errors.Is(err, jobs.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("not_found", err))
	case errors.Is(err, jobs.ErrInvalidState):
		return c.JSON(http.StatusConflict, errorBody("invalid_state", err))
	}

	return c.JSON(http.StatusInternalServerError, errorBody("internal", err))
}

func errorBody(code string, err error) map[string]string {
	return map[string]string{"error": code, "message": err.Error()}
}
