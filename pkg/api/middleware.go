package api

import (
	echo "github.com/labstack/echo/v5"
)

// hardeningHeaders go on every response. The server only ever returns JSON,
// NDJSON, and one event stream, none of which should be framed or sniffed.
var hardeningHeaders = map[string]string{
	"X-Frame-Options":        "DENY",
	"X-Content-Type-Options": "nosniff",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
}

func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			for name, value := range hardeningHeaders {
				h.Set(name, value)
			}
			return next(c)
		}
	}
}
