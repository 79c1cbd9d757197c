package middleware

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const RequestIDHeader = echo.HeaderXRequestID

// requestIDPattern bounds client-supplied ids so they are safe to log and echo.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// RequestID wraps echo's request id middleware. A well-formed X-Request-ID
// from the client is kept, anything else is replaced with a new UUID. The id
// is stored as "request_id" on the echo context for the logger.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: RequestIDHeader,
		RequestIDHandler: func(c echo.Context, rid string) {
			if !requestIDPattern.MatchString(rid) {
				rid = uuid.NewString()
				c.Response().Header().Set(RequestIDHeader, rid)
			}
			c.Set("request_id", rid)
		},
	})
}
