package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/neira-project/neira/pkg/hub"
)

// mapHubError maps hub error codes to HTTP responses. Rate-limited
// errors also set the X-RateLimit-* headers on the way out.
func mapHubError(c *echo.Context, err error) *echo.HTTPError {
	var he *hub.Error
	if !errors.As(err, &he) {
		slog.Error("Unexpected hub error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	switch he.Code {
	case hub.CodeUnauthorized:
		return echo.NewHTTPError(http.StatusUnauthorized, he.Message)
	case hub.CodeForbidden:
		return echo.NewHTTPError(http.StatusForbidden, he.Message)
	case hub.CodePaused:
		return echo.NewHTTPError(http.StatusServiceUnavailable, he.Message)
	case hub.CodeRateLimited:
		if he.RateLimit != nil {
			setRateHeaders(c, *he.RateLimit)
		}
		return echo.NewHTTPError(http.StatusTooManyRequests, he.Message)
	case hub.CodeBadRequest, hub.CodeValidation:
		return echo.NewHTTPError(http.StatusBadRequest, he.Message)
	case hub.CodeNotFound:
		return echo.NewHTTPError(http.StatusNotFound, he.Message)
	case hub.CodeCancelled:
		return echo.NewHTTPError(http.StatusConflict, he.Message)
	default:
		slog.Error("Hub error", "code", he.Code, "error", he.Message)
		return echo.NewHTTPError(http.StatusInternalServerError, he.Message)
	}
}
