package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/neira-project/neira/pkg/hub"
)

// analysisHandler handles POST /api/neira/analysis. The
// x-reasoning-budget-ms header overrides the body's budget; the
// x-request-id header ties the run to a trace buffer.
func (s *Server) analysisHandler(c *echo.Context) error {
	var req AnalysisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if v := c.Request().Header.Get("x-reasoning-budget-ms"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.BudgetMS = ms
		}
	}
	requestID := c.Request().Header.Get("x-request-id")

	res, err := s.hub.Analyze(c.Request().Context(), hub.AnalyzeInput{
		ID:        req.ID,
		Input:     req.Input,
		Auth:      req.Auth,
		BudgetMS:  req.BudgetMS,
		RequestID: requestID,
	})
	if err != nil {
		return mapHubError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// analysisCancelHandler handles POST /api/neira/analysis/cancel.
func (s *Server) analysisCancelHandler(c *echo.Context) error {
	var req AnalysisCancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if !s.hub.Auth.CheckAuth(req.Auth) {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown token")
	}
	cancelled := s.hub.CancelAnalysis(req.ID)
	return c.JSON(http.StatusOK, CancelledResponse{Cancelled: cancelled})
}

// analysisResumeHandler handles POST /api/neira/analysis/resume,
// returning the stored checkpoint.
func (s *Server) analysisResumeHandler(c *echo.Context) error {
	var req AnalysisCancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	res, err := s.hub.ResumeAnalysis(req.ID, req.Auth)
	if err != nil {
		return mapHubError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
