package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/neira-project/neira/pkg/hub"
)

// chatHandler handles POST /api/neira/chat.
func (s *Server) chatHandler(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.RequestID == "" {
		req.RequestID = c.Request().Header.Get("x-request-id")
	}

	out, err := s.hub.Chat(c.Request().Context(), hub.ChatInput{
		CellID:    req.CellID,
		ChatID:    req.ChatID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Auth:      req.Auth,
		Persist:   req.Persist,
		RequestID: req.RequestID,
		Source:    req.Source,
		ThreadID:  req.ThreadID,
	})
	if err != nil {
		return mapHubError(c, err)
	}

	setRateHeaders(c, out.RateLimit)
	return c.JSON(http.StatusOK, ChatResponse{
		Response:    out.Response,
		UsedContext: out.UsedContext,
		SessionID:   out.SessionID,
		Idempotent:  out.Idempotent,
	})
}

// chatStreamHandler handles POST /api/neira/chat/stream as
// Server-Sent Events: meta, message per token, periodic progress,
// done.
func (s *Server) chatStreamHandler(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	res := c.Response()
	h := res.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	wroteHeader := false
	emit := func(event string, data map[string]any) error {
		if !wroteHeader {
			res.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	err := s.hub.StreamChat(c.Request().Context(), hub.ChatInput{
		CellID:    req.CellID,
		ChatID:    req.ChatID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Auth:      req.Auth,
		Persist:   req.Persist,
		RequestID: req.RequestID,
		Source:    req.Source,
		ThreadID:  req.ThreadID,
	}, emit)
	if err != nil && !wroteHeader {
		return mapHubError(c, err)
	}
	return nil
}

// streamCancelHandler handles POST /api/neira/chat/stream/cancel.
func (s *Server) streamCancelHandler(c *echo.Context) error {
	var req StreamCancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if !s.hub.Auth.CheckAuth(req.Auth) {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown token")
	}
	cancelled := s.hub.CancelStream(req.ChatID, req.SessionID)
	return c.JSON(http.StatusOK, CancelledResponse{Cancelled: cancelled})
}

// maskingPreviewHandler handles POST /api/neira/chat/masking/preview:
// a dry run of the masking pipeline, nothing persisted.
func (s *Server) maskingPreviewHandler(c *echo.Context) error {
	var req MaskingPreviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if !s.hub.Auth.CheckAuth(req.Auth) {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown token")
	}
	masked := s.hub.MaskPreview(req.Text, req.Regexes)
	return c.JSON(http.StatusOK, MaskingPreviewResponse{Masked: masked})
}
