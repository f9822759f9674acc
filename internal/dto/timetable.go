package dto

import (
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
)

// CreateGenerationRequest starts a greedy allocation run for a term.
type CreateGenerationRequest struct {
	TermID           string  `json:"termId" validate:"required"`
	BaseGenerationID *string `json:"baseGenerationId" validate:"omitempty,min=1"`
	// AnchorDate pins the reference week. Defaults to the later of today and the term start.
	AnchorDate   string  `json:"anchorDate" validate:"omitempty,datetime=2006-01-02"`
	DepartmentID string  `json:"departmentId"`
	GradeLevel   *int    `json:"gradeLevel" validate:"omitempty,min=1,max=12"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
}

// OptimizerConstraint is an extra rule forwarded to the optimizer.
type OptimizerConstraint struct {
	Type  string      `json:"type" validate:"required"`
	Value interface{} `json:"value"`
}

// CreateOptimizerGenerationRequest submits a term to the external optimizer.
type CreateOptimizerGenerationRequest struct {
	TermID            string                `json:"termId" validate:"required"`
	OptimizationLevel string                `json:"optimizationLevel" validate:"omitempty,oneof=basic advanced"`
	TimeLimit         int                   `json:"timeLimit" validate:"omitempty,min=60,max=3600"`
	Goals             []string              `json:"goals"`
	Constraints       []OptimizerConstraint `json:"constraints" validate:"omitempty,dive"`
	Notes             *string               `json:"notes" validate:"omitempty,max=500"`
}

// GenerationListQuery filters generation listings.
type GenerationListQuery struct {
	TermID string `form:"termId" validate:"required"`
}

// LessonQuery narrows lesson listings and exports.
type LessonQuery struct {
	TeacherID string `form:"teacherId"`
	ClassID   string `form:"classId"`
	From      string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	Format    string `form:"format" validate:"omitempty,oneof=csv pdf xlsx"`
}

// GenerationDetail is a generation with its decoded audit report and failures.
type GenerationDetail struct {
	models.TimetableGeneration
	Report   *scheduler.ScheduleReport     `json:"report,omitempty"`
	Failures []scheduler.SchedulingFailure `json:"failures,omitempty"`
}

// ValidateTimeSlotsRequest checks a proposed slot grid.
type ValidateTimeSlotsRequest struct {
	Slots []models.TimeSlot `json:"slots" validate:"required,min=1,dive"`
}

// ValidateTimeSlotsResponse reports slot problems and a grid summary.
type ValidateTimeSlotsResponse struct {
	Valid   bool                  `json:"valid"`
	Issues  []scheduler.SlotIssue `json:"issues"`
	Summary scheduler.SlotSummary `json:"summary"`
}

// DefaultTimeSlotsRequest generates a weekly grid from a school day template.
type DefaultTimeSlotsRequest struct {
	SchoolID       string   `json:"schoolId" validate:"required"`
	WorkingDays    []string `json:"workingDays" validate:"omitempty,dive,oneof=sunday monday tuesday wednesday thursday friday saturday"`
	StartTime      string   `json:"startTime" validate:"required"`
	EndTime        string   `json:"endTime" validate:"required"`
	PeriodMinutes  int      `json:"periodMinutes" validate:"omitempty,min=15,max=240"`
	SessionsPerDay int      `json:"sessionsPerDay" validate:"omitempty,min=1,max=16"`
	Persist        bool     `json:"persist"`
}

// UpdateSchoolConstraintsRequest replaces a school's pacing limits.
type UpdateSchoolConstraintsRequest struct {
	MaxLessonsPerDay      int   `json:"maxLessonsPerDay" validate:"required,min=1"`
	MinLessonsPerDay      int   `json:"minLessonsPerDay" validate:"min=0"`
	MaxConsecutiveLessons int   `json:"maxConsecutiveLessons" validate:"required,min=1"`
	BreakRequired         *bool `json:"breakRequired" validate:"required"`
}
