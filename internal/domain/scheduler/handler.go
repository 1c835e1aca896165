package scheduler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the tick endpoint behind the cron-key middleware
// supplied by the caller.
func (h *Handler) RegisterRoutes(api *echo.Group, cron ...echo.MiddlewareFunc) {
	cronGroup := api.Group("", cron...)
	cronGroup.POST("/scheduler/tick", h.Tick)
}

func (h *Handler) Tick(c echo.Context) error {
	summaries, err := h.svc.Tick(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"clinics": summaries})
}
