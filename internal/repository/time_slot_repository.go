package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const timeSlotColumns = `id, school_id, day_of_week, start_time, end_time, period_number, is_teaching_period, slot_name, created_at`

// TimeSlotRepository reads and seeds the weekly period grid of a school.
type TimeSlotRepository struct {
	db *sqlx.DB
}

// NewTimeSlotRepository constructs the repository.
func NewTimeSlotRepository(db *sqlx.DB) *TimeSlotRepository {
	return &TimeSlotRepository{db: db}
}

func (r *TimeSlotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns the slots of a school ordered by day and start time.
func (r *TimeSlotRepository) List(ctx context.Context, filter models.TimeSlotFilter) ([]models.TimeSlot, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.TeachingOnly {
		conditions = append(conditions, "is_teaching_period = TRUE")
	}

	query := "SELECT " + timeSlotColumns + " FROM time_slots"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY day_of_week, start_time, id"

	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return slots, nil
}

// CountBySchool returns how many slots a school already has.
func (r *TimeSlotRepository) CountBySchool(ctx context.Context, schoolID string) (int, error) {
	const query = `SELECT COUNT(*) FROM time_slots WHERE school_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, schoolID); err != nil {
		return 0, fmt.Errorf("count time slots: %w", err)
	}
	return count, nil
}

// CreateBatch inserts slots, assigning ids where missing.
func (r *TimeSlotRepository) CreateBatch(ctx context.Context, exec sqlx.ExtContext, slots []models.TimeSlot) error {
	if len(slots) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO time_slots (id, school_id, day_of_week, start_time, end_time, period_number, is_teaching_period, slot_name, created_at)
VALUES (:id, :school_id, :day_of_week, :start_time, :end_time, :period_number, :is_teaching_period, :slot_name, :created_at)`
	for i := range slots {
		if slots[i].ID == "" {
			slots[i].ID = uuid.NewString()
		}
		if slots[i].CreatedAt.IsZero() {
			slots[i].CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, slots[i]); err != nil {
			return fmt.Errorf("insert time slot %s: %w", slots[i].ID, err)
		}
	}
	return nil
}
