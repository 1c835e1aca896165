package pathway

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/routes/assign", h.AssignRoute)
	api.GET("/routes/:visitor", h.GetRoute)
}

type assignRequest struct {
	VisitorID string `json:"visitor_id"`
	ExamType  string `json:"exam_type"`
	Gender    string `json:"gender"`
}

func (h *Handler) AssignRoute(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.VisitorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_field: visitor_id")
	}
	rt, err := h.svc.Assign(c.Request().Context(), req.VisitorID, req.ExamType, req.Gender)
	if errors.Is(err, ErrUnknownExamType) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown_exam_type")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rt)
}

func (h *Handler) GetRoute(c echo.Context) error {
	rt, err := h.svc.Get(c.Request().Context(), c.Param("visitor"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "route not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rt)
}
