package api

import (
	"fmt"

	echo "github.com/labstack/echo/v5"

	"github.com/neira-project/neira/pkg/ratelimit"
)

// securityHeaders returns middleware that sets standard security
// response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// setRateHeaders writes the X-RateLimit-* response headers.
func setRateHeaders(c *echo.Context, r ratelimit.Result) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", r.Limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", r.Remaining))
	h.Set("X-RateLimit-Used", fmt.Sprintf("%d", r.Used))
	h.Set("X-RateLimit-Window", "minute")
	h.Set("X-RateLimit-Key", r.Key)
}
