package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorResponse is the JSON body of every error the API returns.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorHandler renders errors as {"error": "..."} instead of echo's default
// {"message": "..."} shape. Non-HTTP errors become an opaque 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Internal != nil {
				logger.Debug().Err(he.Internal).Int("status", code).Msg("http error cause")
			}
			switch m := he.Message.(type) {
			case string:
				msg = m
			case error:
				msg = m.Error()
			case nil:
				msg = http.StatusText(code)
			default:
				msg = fmt.Sprint(m)
			}
		} else {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		rid, _ := c.Get("request_id").(string)
		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, ErrorResponse{Error: msg, RequestID: rid})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
