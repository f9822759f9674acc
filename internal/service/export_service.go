package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/export"
)

type generationFinder interface {
	FindByID(ctx context.Context, id string) (*models.TimetableGeneration, error)
}

type lessonLister interface {
	List(ctx context.Context, filter models.ScheduledLessonFilter) ([]models.ScheduledLesson, error)
}

// ExportResult is a rendered timetable ready to be sent to the client.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
	Rows        int
}

// ExportService renders a generation's lessons as CSV, PDF or XLSX.
type ExportService struct {
	generations generationFinder
	lessons     lessonLister
	terms       termReader
	slots       slotReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(generations generationFinder, lessons lessonLister, terms termReader, slots slotReader, validate *validator.Validate, logger *zap.Logger) *ExportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		generations: generations,
		lessons:     lessons,
		terms:       terms,
		slots:       slots,
		validator:   validate,
		logger:      logger,
	}
}

var exportHeaders = []string{"Date", "Day", "Period", "Start", "End", "Teacher", "Class Offering", "Assignment", "Room"}

// Export renders the lessons selected by query in query.Format, defaulting to CSV.
func (s *ExportService) Export(ctx context.Context, generationID string, query dto.LessonQuery) (*ExportResult, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	renderer, err := export.ForFormat(query.Format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	generation, err := s.generations.FindByID(ctx, generationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation")
	}
	if err := inSchoolScope(ctx, generation.SchoolID); err != nil {
		return nil, err
	}
	term, err := s.terms.FindByID(ctx, generation.TermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	filter, err := lessonFilter(generationID, query)
	if err != nil {
		return nil, err
	}
	lessons, err := s.lessons.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons")
	}
	slots, err := s.slots.List(ctx, models.TimeSlotFilter{SchoolID: generation.SchoolID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slots")
	}

	dataset := lessonDataset(fmt.Sprintf("Timetable %s (%s)", term.Name, generation.Status), lessons, slots)
	start := time.Now()
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Debug("timetable exported",
		zap.String("generation_id", generationID),
		zap.String("format", renderer.Extension()),
		zap.Int("rows", len(dataset.Rows)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &ExportResult{
		Filename:    exportFilename(term.Name, generationID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Payload:     payload,
		Rows:        len(dataset.Rows),
	}, nil
}

func lessonDataset(title string, lessons []models.ScheduledLesson, slots []models.TimeSlot) export.Dataset {
	slotIndex := make(map[string]models.TimeSlot, len(slots))
	for _, slot := range slots {
		slotIndex[slot.ID] = slot
	}
	dataset := export.Dataset{Title: title, Headers: exportHeaders, Rows: make([][]string, 0, len(lessons))}
	for _, lesson := range lessons {
		slot := slotIndex[lesson.TimeSlotID]
		period := slot.SlotName
		if slot.PeriodNumber != nil {
			period = strconv.Itoa(*slot.PeriodNumber)
		}
		room := ""
		if lesson.RoomID != nil {
			room = *lesson.RoomID
		}
		dataset.Rows = append(dataset.Rows, []string{
			lesson.DateKey(),
			scheduler.DayName(int(lesson.Date.Weekday())),
			period,
			clock(slot.StartTime),
			clock(slot.EndTime),
			lesson.TeacherID,
			lesson.ClassOfferingID,
			lesson.TeachingAssignmentID,
			room,
		})
	}
	return dataset
}

func clock(t timemodel.TimeOfDay) string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func exportFilename(termName, generationID, extension string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, termName)
	slug = strings.Trim(slug, "-")
	short := generationID
	if len(short) > 8 {
		short = short[:8]
	}
	if slug == "" {
		return fmt.Sprintf("timetable-%s.%s", short, extension)
	}
	return fmt.Sprintf("timetable-%s-%s.%s", slug, short, extension)
}
