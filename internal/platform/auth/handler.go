package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	sessions *Sessions
}

func NewHandler(sessions *Sessions) *Handler {
	return &Handler{sessions: sessions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions", h.Create)
}

type createSessionRequest struct {
	VisitorID string `json:"visitor_id"`
	ExamType  string `json:"exam_type,omitempty"`
}

// Create issues a session token for a visitor. Kiosks call this once at
// check-in and hand the token to the visitor's device for polling.
func (h *Handler) Create(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	if req.VisitorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "visitor_id is required")
	}

	token, err := h.sessions.Issue(req.VisitorID, req.ExamType)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue session token")
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"token":      token,
		"visitor_id": req.VisitorID,
	})
}
