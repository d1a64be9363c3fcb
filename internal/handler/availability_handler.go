package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iqraspace/iqra-api/internal/models"
	"github.com/iqraspace/iqra-api/internal/service"
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
	"github.com/iqraspace/iqra-api/pkg/response"
)

type availabilityService interface {
	Define(ctx context.Context, req service.DefineAvailabilityRequest, actor *models.JWTClaims) (*models.AvailabilityPattern, error)
	List(ctx context.Context, teacherID string) ([]models.AvailabilityPattern, error)
	Slots(ctx context.Context, req service.SlotRangeRequest) ([]models.Slot, error)
	Deactivate(ctx context.Context, id string, actor *models.JWTClaims) error
}

// AvailabilityHandler exposes availability pattern and slot endpoints.
type AvailabilityHandler struct {
	service availabilityService
}

// NewAvailabilityHandler creates a new handler.
func NewAvailabilityHandler(svc availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// Define godoc
// @Summary Define availability window
// @Description Register a recurring weekly availability window for a teacher
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body service.DefineAvailabilityRequest true "Availability payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /availability [post]
func (h *AvailabilityHandler) Define(c *gin.Context) {
	var req service.DefineAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability payload"))
		return
	}

	pattern, err := h.service.Define(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, pattern)
}

// ListByTeacher godoc
// @Summary List availability
// @Description List a teacher's active availability windows
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/{id}/availability [get]
func (h *AvailabilityHandler) ListByTeacher(c *gin.Context) {
	patterns, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, patterns, nil)
}

// Slots godoc
// @Summary List bookable slots
// @Description Expand a teacher's availability into concrete slots with remaining capacity
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/{id}/slots [get]
func (h *AvailabilityHandler) Slots(c *gin.Context) {
	req := service.SlotRangeRequest{
		TeacherID: c.Param("id"),
		From:      c.Query("from"),
		To:        c.Query("to"),
	}
	slots, err := h.service.Slots(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Deactivate godoc
// @Summary Deactivate availability window
// @Description Soft-disable a recurring availability window
// @Tags Availability
// @Produce json
// @Param id path string true "Availability ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /availability/{id} [delete]
func (h *AvailabilityHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
