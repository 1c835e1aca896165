package queue

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qflow/qflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the queue endpoints. Admin routes (call, entries)
// carry the extra middleware supplied by the caller.
func (h *Handler) RegisterRoutes(api *echo.Group, admin ...echo.MiddlewareFunc) {
	api.POST("/queue/enter", h.Enter)
	api.POST("/queue/complete", h.Complete)
	api.POST("/queue/cancel", h.Cancel)
	api.GET("/queue/position", h.Position)
	api.GET("/queue/status", h.Status)

	adminGroup := api.Group("", admin...)
	adminGroup.POST("/queue/call", h.CallNext)
	adminGroup.GET("/queue/entries", h.Entries)
}

type enterRequest struct {
	VisitorID string `json:"visitor_id"`
	Clinic    string `json:"clinic"`
}

type completeRequest struct {
	VisitorID string `json:"visitor_id"`
	Clinic    string `json:"clinic"`
	Pin       string `json:"pin"`
}

// httpError maps domain sentinels onto HTTP statuses with stable reason
// codes in the body.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownClinic):
		return echo.NewHTTPError(http.StatusNotFound, ReasonUnknownClinic)
	case errors.Is(err, ErrNotInQueue):
		return echo.NewHTTPError(http.StatusNotFound, ReasonNotInQueue)
	case errors.Is(err, ErrInvalidPin):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ReasonInvalidPin)
	case errors.Is(err, ErrClinicClosed):
		return echo.NewHTTPError(http.StatusConflict, ReasonClinicClosed)
	case errors.Is(err, ErrLockedStep):
		return echo.NewHTTPError(http.StatusConflict, ReasonLockedStep)
	case errors.Is(err, ErrGenderRestricted):
		return echo.NewHTTPError(http.StatusConflict, ReasonGenderRestricted)
	case errors.Is(err, ErrAlreadyInService):
		return echo.NewHTTPError(http.StatusConflict, ReasonAlreadyInService)
	case errors.Is(err, ErrEmptyQueue):
		return echo.NewHTTPError(http.StatusConflict, ReasonEmptyQueue)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Enter(c echo.Context) error {
	var req enterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.VisitorID == "" || req.Clinic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: visitor_id, clinic")
	}
	ticket, err := h.svc.Enter(c.Request().Context(), req.VisitorID, req.Clinic)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusCreated
	if ticket.Reason == ReasonAlreadyInQueue {
		status = http.StatusOK
	}
	return c.JSON(status, ticket)
}

func (h *Handler) CallNext(c echo.Context) error {
	clinicID := c.QueryParam("clinic")
	if clinicID == "" {
		var req enterRequest
		if err := c.Bind(&req); err == nil {
			clinicID = req.Clinic
		}
	}
	if clinicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: clinic")
	}
	entry, err := h.svc.CallNext(c.Request().Context(), clinicID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Complete(c echo.Context) error {
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.VisitorID == "" || req.Clinic == "" || req.Pin == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: visitor_id, clinic, pin")
	}
	entry, err := h.svc.Complete(c.Request().Context(), req.VisitorID, req.Clinic, req.Pin)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Cancel(c echo.Context) error {
	var req enterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.VisitorID == "" || req.Clinic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: visitor_id, clinic")
	}
	entry, err := h.svc.Cancel(c.Request().Context(), req.VisitorID, req.Clinic)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) Position(c echo.Context) error {
	visitorID := c.QueryParam("visitor_id")
	clinicID := c.QueryParam("clinic")
	if visitorID == "" || clinicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: visitor_id, clinic")
	}
	info, err := h.svc.Position(c.Request().Context(), visitorID, clinicID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) Status(c echo.Context) error {
	clinicID := c.QueryParam("clinic")
	if clinicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: clinic")
	}
	st, err := h.svc.Status(c.Request().Context(), clinicID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Entries(c echo.Context) error {
	clinicID := c.QueryParam("clinic")
	if clinicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: clinic")
	}
	pg := pagination.FromContext(c)
	entries, total, err := h.svc.Entries(c.Request().Context(), clinicID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}
