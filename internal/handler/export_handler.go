package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iqraspace/iqra-api/internal/service"
	"github.com/iqraspace/iqra-api/pkg/response"
)

// ExportHandler serves downloadable schedule exports.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler creates a new handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// TeacherSchedule godoc
// @Summary Export teacher schedule
// @Description Download a teacher's bookings in a date range as CSV or PDF
// @Tags Exports
// @Produce octet-stream
// @Param id path string true "Teacher ID"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/{id}/bookings/export [get]
func (h *ExportHandler) TeacherSchedule(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))

	result, err := h.service.TeacherSchedule(
		c.Request.Context(),
		claimsFromContext(c),
		c.Param("id"),
		c.Query("from"),
		c.Query("to"),
		format,
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
