package clinic

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

// RegisterRoutes mounts the registry endpoints. Admin routes carry the
// admin middleware supplied by the caller.
func (h *Handler) RegisterRoutes(api *echo.Group, admin ...echo.MiddlewareFunc) {
	api.GET("/clinics", h.ListClinics)
	api.GET("/clinics/:id", h.GetClinic)

	adminGroup := api.Group("", admin...)
	adminGroup.PUT("/clinics/:id", h.UpsertClinic)
	adminGroup.POST("/clinics/:id/open", h.OpenClinic)
	adminGroup.POST("/clinics/:id/close", h.CloseClinic)
}

func (h *Handler) ListClinics(c echo.Context) error {
	clinics, err := h.svc.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"clinics": clinics})
}

func (h *Handler) GetClinic(c echo.Context) error {
	cl, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown_clinic")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpsertClinic(c echo.Context) error {
	var cl Clinic
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl.ID = c.Param("id")
	if err := h.svc.Upsert(c.Request().Context(), &cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) OpenClinic(c echo.Context) error {
	return h.setOpen(c, true)
}

func (h *Handler) CloseClinic(c echo.Context) error {
	return h.setOpen(c, false)
}

func (h *Handler) setOpen(c echo.Context, open bool) error {
	cl, err := h.svc.SetOpen(c.Request().Context(), c.Param("id"), open)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown_clinic")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cl)
}
