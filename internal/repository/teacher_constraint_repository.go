package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// TeacherConstraintRepository reads hard unavailability rows.
type TeacherConstraintRepository struct {
	db *sqlx.DB
}

// NewTeacherConstraintRepository constructs the repository.
func NewTeacherConstraintRepository(db *sqlx.DB) *TeacherConstraintRepository {
	return &TeacherConstraintRepository{db: db}
}

// ListByTeachers returns the unavailability of the given teachers.
func (r *TeacherConstraintRepository) ListByTeachers(ctx context.Context, teacherIDs []string) ([]models.TeacherConstraint, error) {
	if len(teacherIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, teacher_id, time_slot_id, reason, created_at
FROM teacher_constraints WHERE teacher_id = ANY($1) ORDER BY teacher_id, time_slot_id`
	var constraints []models.TeacherConstraint
	if err := r.db.SelectContext(ctx, &constraints, query, pq.Array(teacherIDs)); err != nil {
		return nil, fmt.Errorf("list teacher constraints: %w", err)
	}
	return constraints, nil
}
