package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
	"github.com/noah-isme/sma-timetable-engine/pkg/database"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type timeSlotStore interface {
	CountBySchool(ctx context.Context, schoolID string) (int, error)
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, slots []models.TimeSlot) error
}

type schoolConstraintStore interface {
	FindBySchool(ctx context.Context, schoolID string) (*models.SchoolConstraints, error)
	Upsert(ctx context.Context, constraints *models.SchoolConstraints) error
}

// DefaultTimeSlotsResult is a generated slot grid and whether it was stored.
type DefaultTimeSlotsResult struct {
	Slots     []models.TimeSlot     `json:"slots"`
	Summary   scheduler.SlotSummary `json:"summary"`
	Persisted bool                  `json:"persisted"`
}

// SchoolSettingsService manages the per-school slot grid and pacing limits.
type SchoolSettingsService struct {
	slots       timeSlotStore
	constraints schoolConstraintStore
	tx          database.Beginner
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSchoolSettingsService constructs a SchoolSettingsService.
func NewSchoolSettingsService(slots timeSlotStore, constraints schoolConstraintStore, tx database.Beginner, validate *validator.Validate, logger *zap.Logger) *SchoolSettingsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolSettingsService{slots: slots, constraints: constraints, tx: tx, validator: validate, logger: logger}
}

// ValidateTimeSlots reports malformed or overlapping slots without storing anything.
func (s *SchoolSettingsService) ValidateTimeSlots(req dto.ValidateTimeSlotsRequest) (*dto.ValidateTimeSlotsResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time slots")
	}
	issues := scheduler.ValidateTimeSlotSet(req.Slots)
	if issues == nil {
		issues = []scheduler.SlotIssue{}
	}
	return &dto.ValidateTimeSlotsResponse{
		Valid:   len(issues) == 0,
		Issues:  issues,
		Summary: scheduler.SummarizeTimeSlots(req.Slots),
	}, nil
}

// DefaultTimeSlots lays out a weekly grid from a day template. With Persist set the grid is
// stored, which is only allowed while the school has no slots yet.
func (s *SchoolSettingsService) DefaultTimeSlots(ctx context.Context, req dto.DefaultTimeSlotsRequest) (*DefaultTimeSlotsResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid day template")
	}
	start, err := timemodel.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startTime must use HH:MM")
	}
	end, err := timemodel.ParseTimeOfDay(req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endTime must use HH:MM")
	}

	slots, err := scheduler.GenerateDefaultTimeSlots(req.SchoolID, scheduler.DayTemplate{
		WorkingDays:    req.WorkingDays,
		Start:          start,
		End:            end,
		PeriodMinutes:  req.PeriodMinutes,
		SessionsPerDay: req.SessionsPerDay,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrIncompleteTemplate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate time slots")
	}
	if slots == nil {
		slots = []models.TimeSlot{}
	}
	result := &DefaultTimeSlotsResult{Slots: slots, Summary: scheduler.SummarizeTimeSlots(slots)}
	if !req.Persist {
		return result, nil
	}
	if len(slots) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "template produces no time slots")
	}

	existing, err := s.slots.CountBySchool(ctx, req.SchoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count time slots")
	}
	if existing > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("school already has %d time slots", existing))
	}
	if err := database.WithTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		return s.slots.CreateBatch(ctx, tx, slots)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store time slots")
	}
	result.Persisted = true
	s.logger.Info("default time slots stored", zap.String("school_id", req.SchoolID), zap.Int("slots", len(slots)))
	return result, nil
}

// SchoolConstraints returns the stored limits of a school, or its defaults.
func (s *SchoolSettingsService) SchoolConstraints(ctx context.Context, schoolID string) (*models.SchoolConstraints, error) {
	constraints, err := s.constraints.FindBySchool(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school constraints")
	}
	return constraints, nil
}

// UpdateSchoolConstraints replaces the limits of a school after checking they are satisfiable.
func (s *SchoolSettingsService) UpdateSchoolConstraints(ctx context.Context, schoolID string, req dto.UpdateSchoolConstraintsRequest) (*models.SchoolConstraints, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school constraints")
	}
	constraints := models.SchoolConstraints{
		SchoolID:              schoolID,
		MaxLessonsPerDay:      req.MaxLessonsPerDay,
		MinLessonsPerDay:      req.MinLessonsPerDay,
		MaxConsecutiveLessons: req.MaxConsecutiveLessons,
		BreakRequired:         *req.BreakRequired,
	}
	if err := scheduler.ValidateSchoolConstraints(constraints); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidConstraints, err.Error())
	}
	if err := s.constraints.Upsert(ctx, &constraints); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store school constraints")
	}
	s.logger.Info("school constraints updated", zap.String("school_id", schoolID))
	return &constraints, nil
}
