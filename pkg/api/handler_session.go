package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/neira-project/neira/pkg/auth"
	"github.com/neira-project/neira/pkg/contextstore"
)

// requireScope authorizes a token for a scope, mapping failures to
// HTTP errors.
func (s *Server) requireScope(token string, scope auth.Scope) *echo.HTTPError {
	if !s.hub.Auth.CheckAuth(token) {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown token")
	}
	if !s.hub.Auth.CheckScope(token, scope) {
		return echo.NewHTTPError(http.StatusForbidden, "insufficient scope")
	}
	return nil
}

// rejectIfPaused guards the session new, session delete and import
// endpoints.
func (s *Server) rejectIfPaused() *echo.HTTPError {
	if info := s.hub.Control.Paused(); info.Paused {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "system paused: "+info.Reason)
	}
	return nil
}

// sessionNewHandler handles POST /api/neira/chat/session/new.
func (s *Server) sessionNewHandler(c *echo.Context) error {
	var req SessionNewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.rejectIfPaused(); err != nil {
		return err
	}
	if err := s.requireScope(req.Auth, auth.ScopeWrite); err != nil {
		return err
	}
	s.hub.AntiIdle.MarkActivity()
	return c.JSON(http.StatusOK, SessionNewResponse{SessionID: s.hub.NewSessionID(req.Prefix)})
}

// sessionDeleteHandler handles DELETE /api/neira/chat/:chat_id/:session_id.
func (s *Server) sessionDeleteHandler(c *echo.Context) error {
	if err := s.rejectIfPaused(); err != nil {
		return err
	}
	if err := s.requireScope(authParam(c), auth.ScopeWrite); err != nil {
		return err
	}
	if err := s.hub.Store.DeleteSession(c.Param("chat_id"), c.Param("session_id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// sessionRenameHandler handles POST /api/neira/chat/:chat_id/:session_id/rename.
func (s *Server) sessionRenameHandler(c *echo.Context) error {
	var req SessionRenameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.requireScope(req.Auth, auth.ScopeWrite); err != nil {
		return err
	}
	if req.NewSessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "new_session_id is required")
	}
	if err := s.hub.Store.RenameSession(c.Param("chat_id"), c.Param("session_id"), req.NewSessionID); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// sessionGetHandler handles GET /api/neira/chat/:chat_id/:session_id,
// streaming the session as NDJSON with optional window filters.
func (s *Server) sessionGetHandler(c *echo.Context) error {
	if err := s.requireScope(authParam(c), auth.ScopeRead); err != nil {
		return err
	}
	opts := contextstore.LoadOptions{
		FromDate: c.QueryParam("from"),
		ToDate:   c.QueryParam("to"),
		SinceID:  queryUint(c, "since_id"),
		AfterTS:  queryInt64(c, "after_ts"),
		Offset:   int(queryInt64(c, "offset")),
		Limit:    int(queryInt64(c, "limit")),
	}
	msgs, err := s.hub.Store.LoadSessionRange(c.Param("chat_id"), c.Param("session_id"), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return writeNDJSON(c, msgs)
}

// sessionSearchHandler handles GET /api/neira/chat/:chat_id/:session_id/search.
func (s *Server) sessionSearchHandler(c *echo.Context) error {
	if err := s.requireScope(authParam(c), auth.ScopeRead); err != nil {
		return err
	}
	opts := contextstore.SearchOptions{
		Query:   c.QueryParam("q"),
		Regex:   c.QueryParam("regex") == "1",
		Prefix:  c.QueryParam("prefix") == "1",
		SinceID: queryUint(c, "since_id"),
		AfterTS: queryInt64(c, "after_ts"),
		Offset:  int(queryInt64(c, "offset")),
		Limit:   int(queryInt64(c, "limit")),
		Role:    c.QueryParam("role"),
		Desc:    c.QueryParam("sort") == "desc",
	}
	msgs, err := s.hub.Store.Search(c.Param("chat_id"), c.Param("session_id"), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return writeNDJSON(c, msgs)
}

// exportHandler handles GET /api/neira/chat/:chat_id/export.
func (s *Server) exportHandler(c *echo.Context) error {
	if err := s.requireScope(authParam(c), auth.ScopeRead); err != nil {
		return err
	}
	msgs, err := s.hub.Store.ExportChat(c.Param("chat_id"), c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return writeNDJSON(c, msgs)
}

// importHandler handles POST /api/neira/chat/:chat_id/import/:session_id
// with an NDJSON body; each line is one ChatMessage.
func (s *Server) importHandler(c *echo.Context) error {
	if err := s.rejectIfPaused(); err != nil {
		return err
	}
	if err := s.requireScope(authParam(c), auth.ScopeWrite); err != nil {
		return err
	}

	var msgs []contextstore.ChatMessage
	scanner := bufio.NewScanner(c.Request().Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m contextstore.ChatMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid NDJSON line: "+err.Error())
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n, err := s.hub.Store.ImportMessages(c.Param("chat_id"), c.Param("session_id"), msgs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ImportResponse{Imported: n})
}

// writeNDJSON streams messages one JSON object per line.
func writeNDJSON(c *echo.Context, msgs []contextstore.ChatMessage) error {
	res := c.Response()
	res.Header().Set("Content-Type", "application/x-ndjson")
	res.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(res)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}

// authParam reads the auth token from query or header for GET/DELETE
// endpoints that have no body.
func authParam(c *echo.Context) string {
	if v := c.QueryParam("auth"); v != "" {
		return v
	}
	return c.Request().Header.Get("x-neira-auth")
}

func queryUint(c *echo.Context, name string) uint64 {
	v, _ := strconv.ParseUint(c.QueryParam(name), 10, 64)
	return v
}

func queryInt64(c *echo.Context, name string) int64 {
	v, _ := strconv.ParseInt(c.QueryParam(name), 10, 64)
	return v
}
