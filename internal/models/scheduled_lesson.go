package models

import "time"

// DateLayout is the calendar date format used for lesson dates.
const DateLayout = "2006-01-02"

// ScheduledLesson places one period of a teaching assignment into a slot on a date.
// TeacherID and ClassOfferingID are copied from the assignment when the row is written.
type ScheduledLesson struct {
	ID                   string    `db:"id" json:"id"`
	TeachingAssignmentID string    `db:"teaching_assignment_id" json:"teaching_assignment_id"`
	TimeSlotID           string    `db:"timeslot_id" json:"timeslot_id"`
	Date                 time.Time `db:"date" json:"date"`
	GenerationID         string    `db:"generation_id" json:"generation_id"`
	RoomID               *string   `db:"room_id" json:"room_id,omitempty"`
	TeacherID            string    `db:"teacher_id" json:"teacher_id"`
	ClassOfferingID      string    `db:"class_offering_id" json:"class_offering_id"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// DateKey renders the lesson date in DateLayout.
func (l ScheduledLesson) DateKey() string {
	return l.Date.Format(DateLayout)
}

// ScheduledLessonFilter narrows lesson listings.
type ScheduledLessonFilter struct {
	GenerationID string
	TeacherID    string
	ClassID      string
	From         *time.Time
	To           *time.Time
}
