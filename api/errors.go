package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errorStage names the failure for request metrics.
func errorStage(err error) string {
	switch statusFor(err) {
	case http.StatusUnauthorized:
		return "auth"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusPreconditionFailed, http.StatusConflict:
		return "gate"
	case http.StatusBadRequest:
		return "validation"
	}
	return "storage"
}

func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.String(status, err.Error())
}
