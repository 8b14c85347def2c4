package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/careinbox/careinbox/internal/platform/auth"
)

// Handler exposes the reminder outcome log over HTTP. The records carry
// message and receiver ids, so the routes are admin-only.
type Handler struct {
	log *OutcomeLog
}

func NewHandler(log *OutcomeLog) *Handler {
	return &Handler{log: log}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/notifications/outcomes", h.ListOutcomes, auth.RequireRole("admin"))
	g.GET("/notifications/outcomes/stats", h.OutcomeStats, auth.RequireRole("admin"))
}

func (h *Handler) ListOutcomes(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"outcomes": h.log.Recent(limit),
	})
}

func (h *Handler) OutcomeStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stats": h.log.Stats(),
	})
}
