package pin

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the PIN endpoints. Reset routes carry the cron-key
// middleware supplied by the caller.
func (h *Handler) RegisterRoutes(api *echo.Group, cron ...echo.MiddlewareFunc) {
	api.GET("/pins", h.ActivePins)
	api.GET("/pins/status", h.PinStatus)

	cronGroup := api.Group("", cron...)
	cronGroup.POST("/pins/reset", h.Reset)
}

// PinStatus returns (creating if needed) the clinic's PIN for today.
func (h *Handler) PinStatus(c echo.Context) error {
	clinicID := c.QueryParam("clinic")
	if clinicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: clinic")
	}
	rec, err := h.svc.GetOrCreateDaily(c.Request().Context(), clinicID)
	if errors.Is(err, ErrSpaceExhausted) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pin_space_exhausted")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ActivePins(c echo.Context) error {
	recs, err := h.svc.ActivePins(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"pins": recs})
}

// Reset regenerates PINs: one clinic when ?clinic= is given, all active
// otherwise. Triggered by the rollover cron or an admin.
func (h *Handler) Reset(c echo.Context) error {
	ctx := c.Request().Context()
	if clinicID := c.QueryParam("clinic"); clinicID != "" {
		rec, err := h.svc.ResetOne(ctx, clinicID)
		if errors.Is(err, ErrSpaceExhausted) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "pin_space_exhausted")
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, rec)
	}
	n, err := h.svc.ResetAll(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"reset": n})
}
