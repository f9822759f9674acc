package models

import "time"

// UnlimitedPeriodsPerWeek stands in for a teacher without a configured weekly cap.
const UnlimitedPeriodsPerWeek = 30

// TeachingAssignment links a teacher to a class offering that needs weekly periods.
// PeriodsPerWeek and MaxPeriodsPerWeek are joined in from the offering and teacher rows.
type TeachingAssignment struct {
	ID                string    `db:"id" json:"id"`
	TeacherID         string    `db:"teacher_id" json:"teacher_id"`
	ClassOfferingID   string    `db:"class_offering_id" json:"class_offering_id"`
	SchoolID          string    `db:"school_id" json:"school_id"`
	TermID            string    `db:"term_id" json:"term_id"`
	PeriodsPerWeek    int       `db:"periods_per_week" json:"periods_per_week"`
	MaxPeriodsPerWeek *int      `db:"max_periods_per_week" json:"max_periods_per_week,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// TeacherMaxPeriods resolves the weekly cap, falling back to the unlimited sentinel.
func (a TeachingAssignment) TeacherMaxPeriods() int {
	if a.MaxPeriodsPerWeek == nil {
		return UnlimitedPeriodsPerWeek
	}
	return *a.MaxPeriodsPerWeek
}

// TeachingAssignmentFilter narrows assignment snapshots for a run.
type TeachingAssignmentFilter struct {
	TermID       string
	SchoolID     string
	DepartmentID string
	GradeLevel   *int
}
