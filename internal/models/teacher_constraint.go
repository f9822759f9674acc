package models

import "time"

// TeacherConstraint blocks a teacher from ever being scheduled in a time slot.
type TeacherConstraint struct {
	ID         string    `db:"id" json:"id"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	TimeSlotID string    `db:"time_slot_id" json:"time_slot_id"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
