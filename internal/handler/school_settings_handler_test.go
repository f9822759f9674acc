package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/middleware"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type schoolSettingsMock struct {
	template dto.DefaultTimeSlotsRequest
	updated  dto.UpdateSchoolConstraintsRequest
	school   string
}

func (m *schoolSettingsMock) ValidateTimeSlots(req dto.ValidateTimeSlotsRequest) (*dto.ValidateTimeSlotsResponse, error) {
	return &dto.ValidateTimeSlotsResponse{Valid: true, Issues: []scheduler.SlotIssue{}, Summary: scheduler.SummarizeTimeSlots(req.Slots)}, nil
}

func (m *schoolSettingsMock) DefaultTimeSlots(_ context.Context, req dto.DefaultTimeSlotsRequest) (*service.DefaultTimeSlotsResult, error) {
	m.template = req
	return &service.DefaultTimeSlotsResult{Slots: []models.TimeSlot{}, Persisted: req.Persist}, nil
}

func (m *schoolSettingsMock) SchoolConstraints(_ context.Context, schoolID string) (*models.SchoolConstraints, error) {
	m.school = schoolID
	defaults := models.DefaultSchoolConstraints(schoolID)
	return &defaults, nil
}

func (m *schoolSettingsMock) UpdateSchoolConstraints(_ context.Context, schoolID string, req dto.UpdateSchoolConstraintsRequest) (*models.SchoolConstraints, error) {
	m.updated = req
	if req.MaxConsecutiveLessons > req.MaxLessonsPerDay {
		return nil, appErrors.Clone(appErrors.ErrInvalidConstraints, "maxConsecutiveLessons exceeds maxLessonsPerDay")
	}
	return &models.SchoolConstraints{SchoolID: schoolID, MaxLessonsPerDay: req.MaxLessonsPerDay}, nil
}

func newSchoolSettingsRouter(m *schoolSettingsMock, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := &SchoolSettingsHandler{service: m}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	})
	r.POST("/timeslots/validate", h.ValidateTimeSlots)
	r.POST("/timeslots/defaults", h.DefaultTimeSlots)
	r.GET("/schools/:schoolId/constraints", h.GetConstraints)
	r.PUT("/schools/:schoolId/constraints", h.UpdateConstraints)
	return r
}

func TestSchoolSettingsHandlerTimeSlots(t *testing.T) {
	m := &schoolSettingsMock{}
	r := newSchoolSettingsRouter(m, &models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin, SchoolID: "school-7"})

	rec := serve(r, http.MethodPost, "/timeslots/validate", []byte(`{"slots":[{"id":"a","day_of_week":1,"start_time":"07:00","end_time":"07:45","is_teaching_period":true}]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, true, data["valid"])

	rec = serve(r, http.MethodPost, "/timeslots/defaults", []byte(`{"startTime":"07:00","endTime":"12:00"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "school-7", m.template.SchoolID)

	rec = serve(r, http.MethodPost, "/timeslots/defaults", []byte(`{"schoolId":"school-1","startTime":"07:00","endTime":"12:00","persist":true}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "school-1", m.template.SchoolID)

	rec = serve(r, http.MethodPost, "/timeslots/validate", []byte(`{"slots":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchoolSettingsHandlerConstraints(t *testing.T) {
	m := &schoolSettingsMock{}
	r := newSchoolSettingsRouter(m, nil)

	rec := serve(r, http.MethodGet, "/schools/school-1/constraints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "school-1", m.school)
	assert.Equal(t, float64(6), decodeEnvelope(t, rec)["data"].(map[string]interface{})["maxLessonsPerDay"])

	rec = serve(r, http.MethodPut, "/schools/school-1/constraints", []byte(`{"maxLessonsPerDay":7,"maxConsecutiveLessons":3,"breakRequired":true}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, m.updated.MaxLessonsPerDay)
	require.NotNil(t, m.updated.BreakRequired)
	assert.True(t, *m.updated.BreakRequired)

	rec = serve(r, http.MethodPut, "/schools/school-1/constraints", []byte(`{"maxLessonsPerDay":2,"maxConsecutiveLessons":3,"breakRequired":true}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
