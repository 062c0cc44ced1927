package metrics

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinq/clinq/internal/platform/auth"
)

type Handler struct {
	snaps Repository
	agg   *Aggregator
}

func NewHandler(snaps Repository, agg *Aggregator) *Handler {
	return &Handler{snaps: snaps, agg: agg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "staff"))
	read.GET("/providers/:id/metrics", h.GetProviderMetrics)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/metrics/aggregate", h.TriggerAggregation)
}

func (h *Handler) GetProviderMetrics(c echo.Context) error {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid provider id")
	}

	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
	}

	snaps, err := h.snaps.ListForProviderDate(c.Request().Context(), providerID, date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(snaps) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no metrics for provider on date")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":      date.Format("2006-01-02"),
		"snapshots": snaps,
		"latest":    snaps[len(snaps)-1],
	})
}

// TriggerAggregation runs the daily aggregation on demand, for backfill or
// for providers that close after the scheduled run.
func (h *Handler) TriggerAggregation(c echo.Context) error {
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
	}
	force := c.QueryParam("force") == "true"

	written, err := h.agg.RunForDate(c.Request().Context(), date, force)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":    date.Format("2006-01-02"),
		"force":   force,
		"written": written,
	})
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	return time.Parse("2006-01-02", s)
}
