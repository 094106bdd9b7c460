package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/vera/internal/access"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/middleware/csrf"
	"github.com/Skotchmaster/vera/internal/service"
	"github.com/Skotchmaster/vera/internal/tokens"
)

// envelope wraps every response body, errors included.
type envelope struct {
	Data any `json:"data"`
	Meta any `json:"meta,omitempty"`
}

type pageMeta struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Data: data})
}

func respondPage(c echo.Context, data any, meta pageMeta) error {
	return c.JSON(http.StatusOK, envelope{Data: data, Meta: meta})
}

// ErrorHandler maps domain errors to status codes. Anything unrecognised is a
// 500 whose detail only goes to the log.
func ErrorHandler(base *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, msg := classify(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(c.Request().Context()).Error("unhandled_error", "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, envelope{Data: msg})
		}
		if err != nil {
			base.Error("write_error_response", "error", err)
		}
	}
}

func classify(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		if he.Code >= http.StatusInternalServerError {
			return he.Code, http.StatusText(he.Code)
		}
		if m, ok := he.Message.(string); ok {
			return he.Code, m
		}
		return he.Code, http.StatusText(he.Code)
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, service.ErrInvalidCredentials.Error()
	case errors.Is(err, tokens.ErrExpired), errors.Is(err, tokens.ErrInvalid):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, access.ErrAccessDenied):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, csrf.ErrMismatch):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
