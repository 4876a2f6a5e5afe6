package api

import (
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/neira-project/neira/pkg/auth"
	"github.com/neira-project/neira/pkg/control"
)

// defaultKillGrace bounds graceful shutdown when no grace is given.
const defaultKillGrace = 5 * time.Second

// pauseHandler handles POST /api/neira/control/pause (admin).
func (s *Server) pauseHandler(c *echo.Context) error {
	var req PauseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.requireScope(req.Auth, auth.ScopeAdmin); err != nil {
		return err
	}

	var drain func() int
	if req.DrainActiveStreams {
		drain = s.hub.CancelAllStreams
	}
	if !s.hub.Control.Pause(req.Reason, drain) {
		return echo.NewHTTPError(http.StatusForbidden, "pause disabled by configuration")
	}
	return c.JSON(http.StatusOK, s.hub.CurrentStatus())
}

// resumeHandler handles POST /api/neira/control/resume (admin).
func (s *Server) resumeHandler(c *echo.Context) error {
	var req PauseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.requireScope(req.Auth, auth.ScopeAdmin); err != nil {
		return err
	}
	s.hub.Control.Resume()
	s.hub.AntiIdle.MarkActivity()
	return c.JSON(http.StatusOK, s.hub.CurrentStatus())
}

// killHandler handles POST /api/neira/control/kill (admin): graceful
// shutdown now, forced exit after the grace period.
func (s *Server) killHandler(c *echo.Context) error {
	var req KillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.requireScope(req.Auth, auth.ScopeAdmin); err != nil {
		return err
	}
	grace := defaultKillGrace
	if req.GraceMS > 0 {
		grace = time.Duration(req.GraceMS) * time.Millisecond
	}
	if !s.hub.Control.Kill(grace) {
		return echo.NewHTTPError(http.StatusForbidden, "kill disabled by configuration")
	}
	return c.JSON(http.StatusOK, map[string]any{"shutting_down": true, "grace_ms": grace.Milliseconds()})
}

// statusHandler handles GET /api/neira/control/status.
func (s *Server) statusHandler(c *echo.Context) error {
	if err := s.requireScope(authParam(c), auth.ScopeRead); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.hub.CurrentStatus())
}

// snapshotHandler handles GET /api/neira/inspect/snapshot (admin).
// include=metrics,context,logs selects sections; request_id adds a
// trace dump; zip=1 bundles the result.
func (s *Server) snapshotHandler(c *echo.Context) error {
	if err := s.requireScope(authParam(c), auth.ScopeAdmin); err != nil {
		return err
	}
	include := c.QueryParam("include")
	opts := control.SnapshotOptions{
		IncludeMetrics: include == "" || containsField(include, "metrics"),
		IncludeContext: containsField(include, "context"),
		IncludeLogs:    containsField(include, "logs"),
		RequestID:      c.QueryParam("request_id"),
		LogLevel:       c.QueryParam("level"),
		SinceMS:        queryInt64(c, "since_ts_ms"),
		Zip:            c.QueryParam("zip") == "1",
	}
	path, err := s.hub.Control.WriteSnapshot(opts, s.hub.Store.Root(), s.logs, s.hub.Masking.Active())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SnapshotResponse{Path: path})
}

// traceHandler handles GET /api/neira/trace/:request_id.
func (s *Server) traceHandler(c *echo.Context) error {
	if err := s.requireScope(authParam(c), auth.ScopeRead); err != nil {
		return err
	}
	requestID := c.Param("request_id")
	return c.JSON(http.StatusOK, TraceResponse{
		RequestID: requestID,
		Events:    s.hub.Control.TraceDump(requestID),
	})
}

// traceToggleHandler handles POST /api/neira/trace/toggle (admin).
func (s *Server) traceToggleHandler(c *echo.Context) error {
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.requireScope(req.Auth, auth.ScopeAdmin); err != nil {
		return err
	}
	enabled := s.hub.Control.ToggleTrace(req.Enabled)
	return c.JSON(http.StatusOK, map[string]any{"trace_enabled": enabled})
}

// antiIdleToggleHandler handles POST /api/neira/control/anti_idle/toggle (admin).
func (s *Server) antiIdleToggleHandler(c *echo.Context) error {
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.requireScope(req.Auth, auth.ScopeAdmin); err != nil {
		return err
	}
	if req.Enabled != nil {
		s.hub.AntiIdle.SetEnabled(*req.Enabled)
	} else {
		s.hub.AntiIdle.SetEnabled(!s.hub.AntiIdle.Enabled())
	}
	return c.JSON(http.StatusOK, map[string]any{"anti_idle_enabled": s.hub.AntiIdle.Enabled()})
}

// containsField reports whether a comma-separated list contains the
// field.
func containsField(list, field string) bool {
	for _, f := range strings.Split(list, ",") {
		if strings.TrimSpace(f) == field {
			return true
		}
	}
	return false
}
