package models

import (
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
)

// TimeSlot is a recurring weekly period of a school day.
type TimeSlot struct {
	ID               string              `db:"id" json:"id"`
	SchoolID         string              `db:"school_id" json:"school_id"`
	DayOfWeek        int                 `db:"day_of_week" json:"day_of_week" validate:"min=0,max=6"`
	StartTime        timemodel.TimeOfDay `db:"start_time" json:"start_time"`
	EndTime          timemodel.TimeOfDay `db:"end_time" json:"end_time"`
	PeriodNumber     *int                `db:"period_number" json:"period_number,omitempty"`
	IsTeachingPeriod bool                `db:"is_teaching_period" json:"is_teaching_period"`
	SlotName         string              `db:"slot_name" json:"slot_name,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
}

// Window returns the weekly interval covered by the slot.
func (s TimeSlot) Window() timemodel.Window {
	return timemodel.Window{Day: s.DayOfWeek, Start: s.StartTime, End: s.EndTime}
}

// TimeSlotFilter narrows slot snapshots.
type TimeSlotFilter struct {
	SchoolID     string
	TeachingOnly bool
}
