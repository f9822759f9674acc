package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
)

const (
	// MinSlotMinutes is the shortest period a slot may describe.
	MinSlotMinutes = 15
	// MaxSlotMinutes is the longest period a slot may describe.
	MaxSlotMinutes = 240
	// DefaultPeriodMinutes applies when a day template has no period length.
	DefaultPeriodMinutes = 40
	// DefaultSessionsPerDay applies when a day template has no session count.
	DefaultSessionsPerDay = 7
)

// ErrIncompleteTemplate is returned when a day template lacks a start, end or session count.
var ErrIncompleteTemplate = errors.New("school day template is incomplete")

var dayNames = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// DayName returns the lowercase English weekday for 0..6.
func DayName(day int) string {
	if day < 0 || day >= len(dayNames) {
		return ""
	}
	return dayNames[day]
}

// SlotIssue describes one problem found in a time slot definition.
type SlotIssue struct {
	SlotID  string `json:"slotId,omitempty"`
	Day     int    `json:"day"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateTimeSlot checks a single slot in isolation and returns its first problem.
func ValidateTimeSlot(slot models.TimeSlot) *SlotIssue {
	issue := func(field, message string) *SlotIssue {
		return &SlotIssue{SlotID: slot.ID, Day: slot.DayOfWeek, Field: field, Message: message}
	}
	if slot.DayOfWeek < 0 || slot.DayOfWeek > 6 {
		return issue("day_of_week", "day of week must be between 0 (Sunday) and 6 (Saturday)")
	}
	if !slot.StartTime.Valid() || !slot.EndTime.Valid() {
		return issue("start_time", "time must be within a single day")
	}
	if slot.EndTime <= slot.StartTime {
		return issue("end_time", "end time must be after start time")
	}
	duration := timemodel.DurationMinutes(slot.Window())
	if duration < MinSlotMinutes {
		return issue("end_time", fmt.Sprintf("period duration must be at least %d minutes", MinSlotMinutes))
	}
	if duration > MaxSlotMinutes {
		return issue("end_time", fmt.Sprintf("period duration cannot exceed %d minutes", MaxSlotMinutes))
	}
	if slot.PeriodNumber != nil && *slot.PeriodNumber < 1 {
		return issue("period_number", "period number must be at least 1")
	}
	return nil
}

// ValidateTimeSlotSet validates every slot and reports overlapping teaching periods and
// duplicate period numbers within a day.
func ValidateTimeSlotSet(slots []models.TimeSlot) []SlotIssue {
	var issues []SlotIssue
	byDay := make(map[int][]models.TimeSlot)
	for _, slot := range slots {
		if issue := ValidateTimeSlot(slot); issue != nil {
			issues = append(issues, *issue)
			continue
		}
		byDay[slot.DayOfWeek] = append(byDay[slot.DayOfWeek], slot)
	}

	for day := 0; day < len(dayNames); day++ {
		daySlots := byDay[day]
		sort.SliceStable(daySlots, func(i, j int) bool {
			if daySlots[i].StartTime != daySlots[j].StartTime {
				return daySlots[i].StartTime < daySlots[j].StartTime
			}
			return daySlots[i].ID < daySlots[j].ID
		})

		periods := make(map[int]string)
		for i, slot := range daySlots {
			if slot.PeriodNumber != nil {
				if other, dup := periods[*slot.PeriodNumber]; dup {
					issues = append(issues, SlotIssue{
						SlotID:  slot.ID,
						Day:     day,
						Field:   "period_number",
						Message: fmt.Sprintf("period number %d already used by slot %s", *slot.PeriodNumber, other),
					})
				} else {
					periods[*slot.PeriodNumber] = slot.ID
				}
			}
			if !slot.IsTeachingPeriod {
				continue
			}
			for _, other := range daySlots[i+1:] {
				if !other.IsTeachingPeriod {
					continue
				}
				if timemodel.Overlaps(slot.Window(), other.Window()) {
					issues = append(issues, SlotIssue{
						SlotID:  other.ID,
						Day:     day,
						Field:   "start_time",
						Message: fmt.Sprintf("overlaps %s-%s of slot %s", slot.StartTime, slot.EndTime, slot.ID),
					})
				}
			}
		}
	}
	return issues
}

// DayTemplate describes a school day from which default slots are generated.
type DayTemplate struct {
	WorkingDays    []string
	Start          timemodel.TimeOfDay
	End            timemodel.TimeOfDay
	PeriodMinutes  int
	SessionsPerDay int
}

// GenerateDefaultTimeSlots lays out back-to-back teaching periods on each working day until
// either the session count or the end of the day is reached. Unknown day names are ignored.
func GenerateDefaultTimeSlots(schoolID string, tmpl DayTemplate) ([]models.TimeSlot, error) {
	if tmpl.End <= tmpl.Start {
		return nil, fmt.Errorf("%w: end must be after start", ErrIncompleteTemplate)
	}
	if tmpl.SessionsPerDay < 0 {
		return nil, fmt.Errorf("%w: sessions per day must not be negative", ErrIncompleteTemplate)
	}
	period := tmpl.PeriodMinutes
	if period <= 0 {
		period = DefaultPeriodMinutes
	}
	sessions := tmpl.SessionsPerDay
	if sessions == 0 {
		sessions = DefaultSessionsPerDay
	}
	days := tmpl.WorkingDays
	if len(days) == 0 {
		days = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	}

	var slots []models.TimeSlot
	for _, name := range days {
		day := dayIndex(name)
		if day < 0 {
			continue
		}
		for i := 0; i < sessions; i++ {
			start := tmpl.Start.Add(i * period)
			end := start.Add(period)
			if end > tmpl.End {
				break
			}
			number := i + 1
			slots = append(slots, models.TimeSlot{
				SchoolID:         schoolID,
				DayOfWeek:        day,
				StartTime:        start,
				EndTime:          end,
				PeriodNumber:     &number,
				IsTeachingPeriod: true,
				SlotName:         fmt.Sprintf("Period %d", number),
			})
		}
	}
	return slots, nil
}

func dayIndex(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, d := range dayNames {
		if d == name {
			return i
		}
	}
	return -1
}

// SlotSummary aggregates a school's weekly slot grid.
type SlotSummary struct {
	TotalSlots           int     `json:"totalSlots"`
	TeachingPeriods      int     `json:"teachingPeriods"`
	BreakPeriods         int     `json:"breakPeriods"`
	TotalHoursPerWeek    float64 `json:"totalHoursPerWeek"`
	AveragePeriodMinutes float64 `json:"averagePeriodMinutes"`
	DaysWithSlots        int     `json:"daysWithSlots"`
}

// SummarizeTimeSlots computes totals over slots.
func SummarizeTimeSlots(slots []models.TimeSlot) SlotSummary {
	summary := SlotSummary{TotalSlots: len(slots)}
	days := make(map[int]struct{})
	totalMinutes := 0
	for _, slot := range slots {
		if slot.IsTeachingPeriod {
			summary.TeachingPeriods++
		} else {
			summary.BreakPeriods++
		}
		totalMinutes += timemodel.DurationMinutes(slot.Window())
		days[slot.DayOfWeek] = struct{}{}
	}
	summary.DaysWithSlots = len(days)
	summary.TotalHoursPerWeek = float64(totalMinutes) / 60
	if len(slots) > 0 {
		summary.AveragePeriodMinutes = float64(totalMinutes) / float64(len(slots))
	}
	return summary
}
