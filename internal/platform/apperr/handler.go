package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON error envelope.
type Body struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

const internalMessage = "internal server error"

// ErrorHandler returns an echo.HTTPErrorHandler that renders every error as
// a Body. Internal failures are logged with their cause and reported to the
// caller with a generic message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func render(err error) (int, Body) {
	var ae *Error
	if errors.As(err, &ae) {
		status := HTTPStatus(ae.Kind)
		if status >= http.StatusInternalServerError {
			return status, Body{Error: internalMessage}
		}
		return status, Body{Error: ae.Message, Details: ae.Details}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			return he.Code, Body{Error: internalMessage}
		}
		return he.Code, Body{Error: fmt.Sprintf("%v", he.Message)}
	}

	return http.StatusInternalServerError, Body{Error: internalMessage}
}
