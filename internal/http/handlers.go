package http

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/engine"
	"github.com/fyrsmithlabs/popguard/internal/popup"
)

// httpError maps engine errors onto HTTP statuses.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, engine.ErrUnknownTab), errors.Is(err, decision.ErrPendingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrEmptyTabID),
		errors.Is(err, engine.ErrInvalidPreferences),
		errors.Is(err, decision.ErrNotUserChoice),
		errors.Is(err, popup.ErrEmptyPopupID),
		errors.Is(err, popup.ErrInvalidDecision),
		errors.Is(err, popup.ErrInvalidRecord):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrClosed), errors.Is(err, decision.ErrShutdown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	tabs := s.engine.Tabs()
	sort.Strings(tabs)

	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Counts: StatusCounts{
			Tabs:      len(tabs),
			Patterns:  len(s.engine.Patterns()),
			History:   len(s.engine.History()),
			Decisions: len(s.engine.Decisions()),
			Queued:    s.queue.Len(),
		},
		Tabs: make([]TabStatus, 0, len(tabs)),
	}
	for _, id := range tabs {
		st, err := s.engine.ThrottleState(id)
		if err != nil {
			// Closed between Tabs and ThrottleState.
			continue
		}
		resp.Tabs = append(resp.Tabs, TabStatus{
			TabID:    id,
			Throttle: st,
			Queued:   len(s.queue.Pending(id)),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDetection(c echo.Context) error {
	var req DetectionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid detection request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PopupID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "popup_id field is required")
	}
	if req.Element == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "element field is required")
	}

	res, err := s.engine.HandleDetection(c.Request().Context(), c.Param("tab"), engine.Detection{
		PopupID: req.PopupID,
		Element: req.Element,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, DetectionResponse{PopupID: req.PopupID, Result: res})
}

func (s *Server) handleDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := popup.ParseDecision(req.Decision)
	if err != nil {
		return httpError(err)
	}

	r, err := s.engine.Decide(c.Request().Context(), c.Param("tab"), c.Param("popup"), d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleVisibility(c echo.Context) error {
	var req VisibilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Visible == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "visible field is required")
	}
	if err := s.engine.SetVisible(c.Param("tab"), *req.Visible); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePending(c echo.Context) error {
	tab := c.Param("tab")
	return c.JSON(http.StatusOK, PendingResponse{TabID: tab, Pending: s.queue.Pending(tab)})
}

func (s *Server) handleCloseTab(c echo.Context) error {
	if err := s.engine.CloseTab(c.Request().Context(), c.Param("tab")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMemoryPressure(c echo.Context) error {
	n := s.engine.ReportMemoryPressure(c.Request().Context())
	return c.JSON(http.StatusOK, MemoryPressureResponse{Evicted: n})
}

func (s *Server) handlePatterns(c echo.Context) error {
	patterns := s.engine.Patterns()
	return c.JSON(http.StatusOK, PatternsResponse{Count: len(patterns), Patterns: patterns})
}

// handleHistory returns the history and decision logs. An optional limit
// query parameter keeps only the newest entries of each.
func (s *Server) handleHistory(c echo.Context) error {
	records := s.engine.History()
	decisions := s.engine.Decisions()

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		records = newest(records, limit)
		decisions = newest(decisions, limit)
	}
	return c.JSON(http.StatusOK, HistoryResponse{Records: records, Decisions: decisions})
}

func (s *Server) handleGetPreferences(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Preferences())
}

// handlePutPreferences starts from the current preferences so that a partial
// body only changes the fields it names.
func (s *Server) handlePutPreferences(c echo.Context) error {
	prefs := s.engine.Preferences()
	if err := c.Bind(&prefs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.engine.SetPreferences(c.Request().Context(), prefs); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s.engine.Preferences())
}

func newest[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
