package scheduler

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ReferenceDate returns the first date on or after anchor falling on dayOfWeek (0 = Sunday).
func ReferenceDate(anchor time.Time, dayOfWeek int) time.Time {
	day := DateOnly(anchor)
	offset := (dayOfWeek - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, offset)
}

// ExpandOccurrences repeats each weekly template lesson on every matching date of the term,
// skipping holidays. Lessons whose slot is unknown are dropped. Output is deduplicated by
// (teacher, slot, date) and sorted by date, start time, slot and assignment.
func ExpandOccurrences(template []models.ScheduledLesson, slots []models.TimeSlot, term models.Term, holidays []models.Holiday) []models.ScheduledLesson {
	slotIndex := make(map[string]models.TimeSlot, len(slots))
	for _, s := range slots {
		slotIndex[s.ID] = s
	}
	closed := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		closed[DateOnly(h.Date).Format(models.DateLayout)] = struct{}{}
	}

	start := DateOnly(term.StartDate)
	end := DateOnly(term.EndDate)
	seen := make(map[string]struct{})
	var out []models.ScheduledLesson

	for _, lesson := range template {
		slot, ok := slotIndex[lesson.TimeSlotID]
		if !ok {
			continue
		}
		for date := ReferenceDate(start, slot.DayOfWeek); !date.After(end); date = date.AddDate(0, 0, 7) {
			key := date.Format(models.DateLayout)
			if _, holiday := closed[key]; holiday {
				continue
			}
			owner := lesson.TeacherID
			if owner == "" {
				owner = lesson.TeachingAssignmentID
			}
			dedupe := owner + "|" + lesson.TimeSlotID + "|" + key
			if _, dup := seen[dedupe]; dup {
				continue
			}
			seen[dedupe] = struct{}{}

			occurrence := lesson
			occurrence.Date = date
			occurrence.ID = LessonID(lesson.GenerationID, lesson.TeachingAssignmentID, lesson.TimeSlotID, date)
			out = append(out, occurrence)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		sa, sb := slotIndex[a.TimeSlotID], slotIndex[b.TimeSlotID]
		if sa.StartTime != sb.StartTime {
			return sa.StartTime < sb.StartTime
		}
		if a.TimeSlotID != b.TimeSlotID {
			return a.TimeSlotID < b.TimeSlotID
		}
		return a.TeachingAssignmentID < b.TeachingAssignmentID
	})
	return out
}

// ProjectToWeek folds dated lessons back onto the reference week starting at anchor, keeping one
// lesson per (assignment, slot). It is the inverse of ExpandOccurrences for carrying a prior
// generation forward.
func ProjectToWeek(lessons []models.ScheduledLesson, slots []models.TimeSlot, anchor time.Time, generationID string) []models.ScheduledLesson {
	slotIndex := make(map[string]models.TimeSlot, len(slots))
	for _, s := range slots {
		slotIndex[s.ID] = s
	}
	seen := make(map[string]struct{})
	var out []models.ScheduledLesson
	for _, lesson := range lessons {
		slot, ok := slotIndex[lesson.TimeSlotID]
		if !ok {
			continue
		}
		key := lesson.TeachingAssignmentID + "|" + lesson.TimeSlotID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		projected := lesson
		projected.GenerationID = generationID
		projected.Date = ReferenceDate(anchor, slot.DayOfWeek)
		projected.ID = LessonID(generationID, lesson.TeachingAssignmentID, lesson.TimeSlotID, projected.Date)
		out = append(out, projected)
	}
	return out
}

// LessonID derives a stable identifier so identical runs produce identical lessons.
func LessonID(generationID, assignmentID, slotID string, date time.Time) string {
	name := generationID + "/" + assignmentID + "/" + slotID + "/" + date.Format(models.DateLayout)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
