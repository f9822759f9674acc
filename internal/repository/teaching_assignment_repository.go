package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// TeachingAssignmentRepository loads the assignments a generation has to place.
type TeachingAssignmentRepository struct {
	db *sqlx.DB
}

// NewTeachingAssignmentRepository constructs the repository.
func NewTeachingAssignmentRepository(db *sqlx.DB) *TeachingAssignmentRepository {
	return &TeachingAssignmentRepository{db: db}
}

// ListForRun returns assignments of a term with the offering's weekly periods and the
// teacher's weekly cap joined in.
func (r *TeachingAssignmentRepository) ListForRun(ctx context.Context, filter models.TeachingAssignmentFilter) ([]models.TeachingAssignment, error) {
	if filter.TermID == "" {
		return nil, fmt.Errorf("term_id is required")
	}

	conditions := []string{"ta.term_id = $1"}
	args := []interface{}{filter.TermID}
	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("co.school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("co.department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.GradeLevel != nil {
		conditions = append(conditions, fmt.Sprintf("co.grade_level = $%d", len(args)+1))
		args = append(args, *filter.GradeLevel)
	}

	query := `SELECT ta.id, ta.teacher_id, ta.class_offering_id, co.school_id, ta.term_id, co.periods_per_week, t.max_periods_per_week, ta.created_at
FROM teaching_assignments ta
JOIN class_offerings co ON co.id = ta.class_offering_id
JOIN teachers t ON t.id = ta.teacher_id
WHERE ` + strings.Join(conditions, " AND ") + `
ORDER BY ta.teacher_id, ta.class_offering_id, ta.id`

	var assignments []models.TeachingAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("list teaching assignments: %w", err)
	}
	return assignments, nil
}
