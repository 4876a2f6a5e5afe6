// Package api provides the HTTP surface of the hub: chat and
// analysis endpoints, session management, the operator control plane,
// and Prometheus exposition.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neira-project/neira/pkg/control"
	"github.com/neira-project/neira/pkg/hub"
	"github.com/neira-project/neira/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	hub        *hub.Hub
	logs       *control.LogBuffer
}

// NewServer creates the API server. logs may be nil (snapshots skip
// the log tail).
func NewServer(h *hub.Hub, logs *control.LogBuffer) *Server {
	e := echo.New()
	s := &Server{echo: e, hub: h, logs: logs}
	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		s.hub.Metrics.Registry, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api/neira")

	api.POST("/chat", s.chatHandler)
	api.POST("/chat/stream", s.chatStreamHandler)
	api.POST("/chat/stream/cancel", s.streamCancelHandler)

	api.POST("/analysis", s.analysisHandler)
	api.POST("/analysis/cancel", s.analysisCancelHandler)
	api.POST("/analysis/resume", s.analysisResumeHandler)

	api.POST("/chat/session/new", s.sessionNewHandler)
	api.GET("/chat/:chat_id/export", s.exportHandler)
	api.DELETE("/chat/:chat_id/:session_id", s.sessionDeleteHandler)
	api.POST("/chat/:chat_id/:session_id/rename", s.sessionRenameHandler)
	api.GET("/chat/:chat_id/:session_id", s.sessionGetHandler)
	api.GET("/chat/:chat_id/:session_id/search", s.sessionSearchHandler)
	api.POST("/chat/:chat_id/import/:session_id", s.importHandler)
	api.POST("/chat/masking/preview", s.maskingPreviewHandler)

	api.POST("/control/pause", s.pauseHandler)
	api.POST("/control/resume", s.resumeHandler)
	api.POST("/control/kill", s.killHandler)
	api.GET("/control/status", s.statusHandler)
	api.GET("/inspect/snapshot", s.snapshotHandler)
	api.GET("/trace/:request_id", s.traceHandler)
	api.POST("/trace/toggle", s.traceToggleHandler)
	api.POST("/control/anti_idle/toggle", s.antiIdleToggleHandler)
}

// Start begins serving on addr and blocks until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// healthHandler reports liveness plus a coarse runtime summary.
func (s *Server) healthHandler(c *echo.Context) error {
	st := s.hub.CurrentStatus()
	status := "healthy"
	if st.Paused {
		status = "paused"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":         status,
		"version":        version.Full(),
		"backpressure":   st.Backpressure,
		"active_streams": st.ActiveStreams,
		"safe_mode":      st.SafeMode,
	})
}
