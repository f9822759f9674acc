package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
)

const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
)

// ScheduledLessonRepository persists the lessons owned by a generation.
type ScheduledLessonRepository struct {
	db *sqlx.DB
}

// NewScheduledLessonRepository constructs the repository.
func NewScheduledLessonRepository(db *sqlx.DB) *ScheduledLessonRepository {
	return &ScheduledLessonRepository{db: db}
}

func (r *ScheduledLessonRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch writes lessons one row at a time so a rejected row can be reported precisely.
// Unique and exclusion violations are returned wrapping scheduler.ErrStorageDoubleBooking.
func (r *ScheduledLessonRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, lessons []models.ScheduledLesson) error {
	if len(lessons) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO scheduled_lessons (id, generation_id, teaching_assignment_id, teacher_id, class_offering_id, timeslot_id, date, room_id, created_at)
VALUES (:id, :generation_id, :teaching_assignment_id, :teacher_id, :class_offering_id, :timeslot_id, :date, :room_id, :created_at)`
	for i := range lessons {
		lesson := &lessons[i]
		if lesson.ID == "" {
			lesson.ID = uuid.NewString()
		}
		if lesson.CreatedAt.IsZero() {
			lesson.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, lesson); err != nil {
			if isDoubleBooking(err) {
				return fmt.Errorf("insert lesson %s on %s: %w", lesson.TimeSlotID, lesson.DateKey(), scheduler.ErrStorageDoubleBooking)
			}
			return fmt.Errorf("insert scheduled lesson: %w", err)
		}
	}
	return nil
}

// List returns lessons matching the filter ordered by date and slot.
func (r *ScheduledLessonRepository) List(ctx context.Context, filter models.ScheduledLessonFilter) ([]models.ScheduledLesson, error) {
	if filter.GenerationID == "" {
		return nil, fmt.Errorf("generation_id is required")
	}

	conditions := []string{"sl.generation_id = $1"}
	args := []interface{}{filter.GenerationID}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("sl.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("co.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("sl.date >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("sl.date <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	query := `SELECT sl.id, sl.generation_id, sl.teaching_assignment_id, sl.teacher_id, sl.class_offering_id, sl.timeslot_id, sl.date, sl.room_id, sl.created_at
FROM scheduled_lessons sl
JOIN class_offerings co ON co.id = sl.class_offering_id
JOIN time_slots ts ON ts.id = sl.timeslot_id
WHERE ` + strings.Join(conditions, " AND ") + `
ORDER BY sl.date, ts.start_time, sl.timeslot_id, sl.teaching_assignment_id`

	var lessons []models.ScheduledLesson
	if err := r.db.SelectContext(ctx, &lessons, query, args...); err != nil {
		return nil, fmt.Errorf("list scheduled lessons: %w", err)
	}
	return lessons, nil
}

// DeleteByGeneration removes every lesson of a generation and returns how many rows went.
func (r *ScheduledLessonRepository) DeleteByGeneration(ctx context.Context, exec sqlx.ExtContext, generationID string) (int64, error) {
	const query = `DELETE FROM scheduled_lessons WHERE generation_id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, generationID)
	if err != nil {
		return 0, fmt.Errorf("delete scheduled lessons: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("scheduled lessons rows affected: %w", err)
	}
	return affected, nil
}

func isDoubleBooking(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqUniqueViolation || pqErr.Code == pqExclusionViolation
}
