package queue

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinq/clinq/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "staff"))
	g.GET("/providers/:id/queue", h.GetQueueStatus)
	g.GET("/appointments/:id/wait", h.GetWaitEstimate)
	g.GET("/appointments/:id/position", h.GetPosition)
}

// GetQueueStatus serves the provider's live queue view. Queue analytics are
// advisory, so storage trouble degrades to available:false rather than 5xx.
func (h *Handler) GetQueueStatus(c echo.Context) error {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid provider id")
	}

	view, err := h.svc.Status(c.Request().Context(), providerID)
	if err != nil {
		h.logger.Warn().Err(err).Str("provider_id", providerID.String()).Msg("queue status unavailable")
		return c.JSON(http.StatusOK, map[string]interface{}{
			"provider_id": providerID,
			"available":   false,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"available": true,
		"status":    view,
	})
}

func (h *Handler) GetWaitEstimate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}

	view, err := h.svc.WaitEstimate(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		h.logger.Warn().Err(err).Str("appointment_id", id.String()).Msg("wait estimate unavailable")
		return c.JSON(http.StatusOK, map[string]interface{}{
			"appointment_id": id,
			"available":      false,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"available": true,
		"estimate":  view,
	})
}

func (h *Handler) GetPosition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}

	view, err := h.svc.Position(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		h.logger.Warn().Err(err).Str("appointment_id", id.String()).Msg("position unavailable")
		return c.JSON(http.StatusOK, map[string]interface{}{
			"appointment_id": id,
			"available":      false,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"available": true,
		"position":  view,
	})
}
