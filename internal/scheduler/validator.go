package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
)

// Placement is a lesson together with the slot it occupies.
type Placement struct {
	Lesson models.ScheduledLesson
	Slot   models.TimeSlot
}

// Candidate is a proposed lesson for an assignment in a slot on a date.
type Candidate struct {
	Assignment models.TeachingAssignment
	Slot       models.TimeSlot
	Date       time.Time
}

// Unavailability indexes hard teacher/slot blocks.
type Unavailability map[string]struct{}

// NewUnavailability builds the lookup from teacher constraints.
func NewUnavailability(constraints []models.TeacherConstraint) Unavailability {
	set := make(Unavailability, len(constraints))
	for _, c := range constraints {
		set[unavailabilityKey(c.TeacherID, c.TimeSlotID)] = struct{}{}
	}
	return set
}

// Blocks reports whether the teacher may never teach in the slot.
func (u Unavailability) Blocks(teacherID, slotID string) bool {
	_, ok := u[unavailabilityKey(teacherID, slotID)]
	return ok
}

func unavailabilityKey(teacherID, slotID string) string {
	return teacherID + "|" + slotID
}

// PlacementContext is the caller-owned snapshot CanPlace checks a candidate against.
type PlacementContext struct {
	TeacherLessons     []Placement
	ClassLessons       []Placement
	Unavailability     Unavailability
	School             models.SchoolConstraints
	TeacherMaxPeriods  int
	TeacherPeriodCount int
}

// ValidateSchoolConstraints rejects limits that no schedule could satisfy.
func ValidateSchoolConstraints(c models.SchoolConstraints) error {
	switch {
	case c.MaxLessonsPerDay < 1:
		return fmt.Errorf("%w: maxLessonsPerDay must be at least 1", ErrInvalidConstraints)
	case c.MinLessonsPerDay < 0:
		return fmt.Errorf("%w: minLessonsPerDay must not be negative", ErrInvalidConstraints)
	case c.MinLessonsPerDay > c.MaxLessonsPerDay:
		return fmt.Errorf("%w: minLessonsPerDay (%d) exceeds maxLessonsPerDay (%d)", ErrInvalidConstraints, c.MinLessonsPerDay, c.MaxLessonsPerDay)
	case c.MaxConsecutiveLessons < 1:
		return fmt.Errorf("%w: maxConsecutiveLessons must be at least 1", ErrInvalidConstraints)
	case c.MaxConsecutiveLessons > c.MaxLessonsPerDay:
		return fmt.Errorf("%w: maxConsecutiveLessons (%d) exceeds maxLessonsPerDay (%d)", ErrInvalidConstraints, c.MaxConsecutiveLessons, c.MaxLessonsPerDay)
	}
	return nil
}

// CanPlace checks a candidate against hard and pacing rules, returning the first *Violation
// found or nil. Rules run in a fixed order and nothing in ctx is modified.
func CanPlace(c Candidate, ctx PlacementContext) error {
	teacherID := c.Assignment.TeacherID
	offeringID := c.Assignment.ClassOfferingID
	date := c.Date.Format(models.DateLayout)

	violation := func(kind ViolationKind, detail string) *Violation {
		return &Violation{
			Kind:            kind,
			AssignmentID:    c.Assignment.ID,
			TeacherID:       teacherID,
			ClassOfferingID: offeringID,
			TimeSlotID:      c.Slot.ID,
			Date:            date,
			Detail:          detail,
		}
	}

	if ctx.Unavailability.Blocks(teacherID, c.Slot.ID) {
		return violation(KindHardUnavailability, "teacher is unavailable in this slot")
	}

	for _, p := range ctx.TeacherLessons {
		if p.Lesson.TimeSlotID == c.Slot.ID && p.Lesson.DateKey() == date {
			return violation(KindTeacherDoubleBooking, fmt.Sprintf("teacher already teaches lesson %s", p.Lesson.ID))
		}
	}
	for _, p := range ctx.ClassLessons {
		if p.Lesson.TimeSlotID == c.Slot.ID && p.Lesson.DateKey() == date {
			return violation(KindClassDoubleBooking, fmt.Sprintf("class already has lesson %s", p.Lesson.ID))
		}
	}

	if ctx.TeacherPeriodCount+1 > ctx.TeacherMaxPeriods {
		return violation(KindWorkloadExceeded, fmt.Sprintf("weekly load would be %d of %d", ctx.TeacherPeriodCount+1, ctx.TeacherMaxPeriods))
	}

	windows := windowsOnDate(ctx.TeacherLessons, date)
	windows = append(windows, c.Slot.Window())
	if len(windows) > ctx.School.MaxLessonsPerDay {
		return violation(KindDailyMaxExceeded, fmt.Sprintf("%d lessons on %s exceeds %d", len(windows), date, ctx.School.MaxLessonsPerDay))
	}

	sortWindows(windows)
	if run := timemodel.LongestConsecutiveRun(windows); run > ctx.School.MaxConsecutiveLessons {
		return violation(KindConsecutiveExceeded, fmt.Sprintf("%d consecutive lessons exceeds %d", run, ctx.School.MaxConsecutiveLessons))
	}

	if ctx.School.BreakRequired {
		if missing := countMissingBreaks(windows); missing > 0 {
			return violation(KindMissingBreak, "lessons in separate blocks need at least a 15 minute break")
		}
	}
	return nil
}

func windowsOnDate(lessons []Placement, date string) []timemodel.Window {
	var windows []timemodel.Window
	for _, p := range lessons {
		if p.Lesson.DateKey() == date {
			windows = append(windows, p.Slot.Window())
		}
	}
	return windows
}

func sortWindows(windows []timemodel.Window) {
	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].Start == windows[j].Start {
			return windows[i].End < windows[j].End
		}
		return windows[i].Start < windows[j].Start
	})
}

// countMissingBreaks counts adjacent pairs that are neither back-to-back within one block
// nor separated by a full break. Windows must be sorted.
func countMissingBreaks(sorted []timemodel.Window) int {
	missing := 0
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		if timemodel.IsConsecutive(prev, next) || timemodel.HasRequiredBreak(prev, next) {
			continue
		}
		missing++
	}
	return missing
}
