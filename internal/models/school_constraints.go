package models

import "time"

// SchoolConstraints holds the school-wide pacing limits applied to every teacher.
type SchoolConstraints struct {
	SchoolID              string    `db:"school_id" json:"school_id"`
	MaxLessonsPerDay      int       `db:"max_lessons_per_day" json:"maxLessonsPerDay"`
	MinLessonsPerDay      int       `db:"min_lessons_per_day" json:"minLessonsPerDay"`
	MaxConsecutiveLessons int       `db:"max_consecutive_lessons" json:"maxConsecutiveLessons"`
	BreakRequired         bool      `db:"break_required" json:"breakRequired"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultSchoolConstraints mirrors the defaults a new school starts with.
func DefaultSchoolConstraints(schoolID string) SchoolConstraints {
	return SchoolConstraints{
		SchoolID:              schoolID,
		MaxLessonsPerDay:      6,
		MinLessonsPerDay:      1,
		MaxConsecutiveLessons: 3,
		BreakRequired:         true,
	}
}
