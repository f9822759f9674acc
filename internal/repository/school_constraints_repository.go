package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// SchoolConstraintsRepository persists school-wide pacing limits.
type SchoolConstraintsRepository struct {
	db *sqlx.DB
}

// NewSchoolConstraintsRepository constructs the repository.
func NewSchoolConstraintsRepository(db *sqlx.DB) *SchoolConstraintsRepository {
	return &SchoolConstraintsRepository{db: db}
}

// FindBySchool loads the limits of a school, falling back to defaults when none are stored.
func (r *SchoolConstraintsRepository) FindBySchool(ctx context.Context, schoolID string) (*models.SchoolConstraints, error) {
	const query = `SELECT school_id, max_lessons_per_day, min_lessons_per_day, max_consecutive_lessons, break_required, updated_at
FROM school_constraints WHERE school_id = $1`
	var constraints models.SchoolConstraints
	if err := r.db.GetContext(ctx, &constraints, query, schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			defaults := models.DefaultSchoolConstraints(schoolID)
			return &defaults, nil
		}
		return nil, fmt.Errorf("get school constraints: %w", err)
	}
	return &constraints, nil
}

// Upsert stores the limits of a school.
func (r *SchoolConstraintsRepository) Upsert(ctx context.Context, constraints *models.SchoolConstraints) error {
	constraints.UpdatedAt = time.Now().UTC()
	const query = `
INSERT INTO school_constraints (school_id, max_lessons_per_day, min_lessons_per_day, max_consecutive_lessons, break_required, updated_at)
VALUES (:school_id, :max_lessons_per_day, :min_lessons_per_day, :max_consecutive_lessons, :break_required, :updated_at)
ON CONFLICT (school_id) DO UPDATE SET
	max_lessons_per_day = EXCLUDED.max_lessons_per_day,
	min_lessons_per_day = EXCLUDED.min_lessons_per_day,
	max_consecutive_lessons = EXCLUDED.max_consecutive_lessons,
	break_required = EXCLUDED.break_required,
	updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, constraints); err != nil {
		return fmt.Errorf("upsert school constraints: %w", err)
	}
	return nil
}
