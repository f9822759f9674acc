package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/middleware"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type schoolSettings interface {
	ValidateTimeSlots(req dto.ValidateTimeSlotsRequest) (*dto.ValidateTimeSlotsResponse, error)
	DefaultTimeSlots(ctx context.Context, req dto.DefaultTimeSlotsRequest) (*service.DefaultTimeSlotsResult, error)
	SchoolConstraints(ctx context.Context, schoolID string) (*models.SchoolConstraints, error)
	UpdateSchoolConstraints(ctx context.Context, schoolID string, req dto.UpdateSchoolConstraintsRequest) (*models.SchoolConstraints, error)
}

// SchoolSettingsHandler exposes the slot grid tooling and school pacing limits.
type SchoolSettingsHandler struct {
	service schoolSettings
}

// NewSchoolSettingsHandler constructs the handler.
func NewSchoolSettingsHandler(svc *service.SchoolSettingsService) *SchoolSettingsHandler {
	return &SchoolSettingsHandler{service: svc}
}

// ValidateTimeSlots godoc
// @Summary Check a proposed slot grid
// @Tags Time Slots
// @Accept json
// @Produce json
// @Param payload body dto.ValidateTimeSlotsRequest true "Slots"
// @Success 200 {object} response.Envelope
// @Router /timeslots/validate [post]
func (h *SchoolSettingsHandler) ValidateTimeSlots(c *gin.Context) {
	var req dto.ValidateTimeSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slots payload"))
		return
	}
	result, err := h.service.ValidateTimeSlots(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DefaultTimeSlots godoc
// @Summary Generate a default weekly slot grid
// @Description Returns a preview unless persist is set. Persisting requires a school without slots.
// @Tags Time Slots
// @Accept json
// @Produce json
// @Param payload body dto.DefaultTimeSlotsRequest true "Day template"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timeslots/defaults [post]
func (h *SchoolSettingsHandler) DefaultTimeSlots(c *gin.Context) {
	var req dto.DefaultTimeSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid template payload"))
		return
	}
	if claims := middleware.ClaimsFromContext(c); claims != nil && req.SchoolID == "" {
		req.SchoolID = claims.SchoolID
	}
	result, err := h.service.DefaultTimeSlots(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Persisted {
		response.Created(c, result)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// GetConstraints godoc
// @Summary Get a school's pacing limits
// @Tags Schools
// @Produce json
// @Param schoolId path string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /schools/{schoolId}/constraints [get]
func (h *SchoolSettingsHandler) GetConstraints(c *gin.Context) {
	result, err := h.service.SchoolConstraints(c.Request.Context(), c.Param("schoolId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// UpdateConstraints godoc
// @Summary Replace a school's pacing limits
// @Tags Schools
// @Accept json
// @Produce json
// @Param schoolId path string true "School ID"
// @Param payload body dto.UpdateSchoolConstraintsRequest true "Limits"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /schools/{schoolId}/constraints [put]
func (h *SchoolSettingsHandler) UpdateConstraints(c *gin.Context) {
	var req dto.UpdateSchoolConstraintsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid constraints payload"))
		return
	}
	result, err := h.service.UpdateSchoolConstraints(c.Request.Context(), c.Param("schoolId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
