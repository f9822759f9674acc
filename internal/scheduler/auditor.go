package scheduler

import (
	"fmt"
	"sort"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
)

// AuditInput is the reference data a schedule is audited against.
type AuditInput struct {
	Slots              []models.TimeSlot
	Assignments        []models.TeachingAssignment
	TeacherConstraints []models.TeacherConstraint
	School             models.SchoolConstraints
}

// AuditFinding is one violation located by AuditSchedule.
type AuditFinding struct {
	Kind            ViolationKind `json:"kind"`
	TeacherID       string        `json:"teacherId,omitempty"`
	ClassOfferingID string        `json:"classOfferingId,omitempty"`
	RoomID          string        `json:"roomId,omitempty"`
	TimeSlotID      string        `json:"timeSlotId,omitempty"`
	Date            string        `json:"date,omitempty"`
	LessonIDs       []string      `json:"lessonIds,omitempty"`
	Detail          string        `json:"detail"`
}

// ScheduleReport summarises every violation in a complete schedule.
type ScheduleReport struct {
	TotalLessons             int            `json:"totalLessons"`
	TeacherConflicts         int            `json:"teacherConflicts"`
	ClassConflicts           int            `json:"classConflicts"`
	RoomConflicts            int            `json:"roomConflicts"`
	UnavailabilityViolations int            `json:"unavailabilityViolations"`
	WorkloadViolations       int            `json:"workloadViolations"`
	DailyMaxViolations       int            `json:"dailyMaxViolations"`
	ConsecutiveViolations    int            `json:"consecutiveViolations"`
	MissingBreakViolations   int            `json:"missingBreakViolations"`
	UnassignedOfferings      int            `json:"unassignedOfferings"`
	DailyMinShortfalls       int            `json:"dailyMinShortfalls"`
	UnassignedOfferingIDs    []string       `json:"unassignedOfferingIds,omitempty"`
	Findings                 []AuditFinding `json:"findings,omitempty"`
}

// ConflictCount sums every hard violation. Daily minimum shortfalls are advisory and excluded.
func (r ScheduleReport) ConflictCount() int {
	return r.TeacherConflicts + r.ClassConflicts + r.RoomConflicts + r.UnavailabilityViolations +
		r.WorkloadViolations + r.DailyMaxViolations + r.ConsecutiveViolations + r.MissingBreakViolations
}

// Publishable reports whether the schedule is clean enough to publish.
func (r ScheduleReport) Publishable() bool {
	return r.ConflictCount() == 0 && r.UnassignedOfferings == 0
}

type resolvedLesson struct {
	lesson     models.ScheduledLesson
	slot       models.TimeSlot
	teacherID  string
	offeringID string
	date       string
}

// AuditSchedule re-derives every violation over lessons from scratch. It keeps no state
// between calls, so the same input always yields the same report.
func AuditSchedule(lessons []models.ScheduledLesson, in AuditInput) ScheduleReport {
	slotIndex := make(map[string]models.TimeSlot, len(in.Slots))
	for _, slot := range in.Slots {
		slotIndex[slot.ID] = slot
	}
	assignmentIndex := make(map[string]models.TeachingAssignment, len(in.Assignments))
	for _, a := range in.Assignments {
		assignmentIndex[a.ID] = a
	}
	blocked := NewUnavailability(in.TeacherConstraints)

	resolved := make([]resolvedLesson, 0, len(lessons))
	for _, l := range lessons {
		r := resolvedLesson{
			lesson:     l,
			slot:       slotIndex[l.TimeSlotID],
			teacherID:  l.TeacherID,
			offeringID: l.ClassOfferingID,
			date:       l.DateKey(),
		}
		if a, ok := assignmentIndex[l.TeachingAssignmentID]; ok {
			r.teacherID = a.TeacherID
			r.offeringID = a.ClassOfferingID
		}
		resolved = append(resolved, r)
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		return lessonLess(resolved[i], resolved[j])
	})

	report := ScheduleReport{TotalLessons: len(resolved)}

	report.TeacherConflicts = auditDoubleBookings(resolved, &report, KindTeacherDoubleBooking, func(r resolvedLesson) string { return r.teacherID })
	report.ClassConflicts = auditDoubleBookings(resolved, &report, KindClassDoubleBooking, func(r resolvedLesson) string { return r.offeringID })
	report.RoomConflicts = auditDoubleBookings(resolved, &report, KindRoomDoubleBooking, func(r resolvedLesson) string {
		if r.lesson.RoomID == nil {
			return ""
		}
		return *r.lesson.RoomID
	})

	for _, r := range resolved {
		if blocked.Blocks(r.teacherID, r.lesson.TimeSlotID) {
			report.UnavailabilityViolations++
			report.Findings = append(report.Findings, AuditFinding{
				Kind:       KindHardUnavailability,
				TeacherID:  r.teacherID,
				TimeSlotID: r.lesson.TimeSlotID,
				Date:       r.date,
				LessonIDs:  []string{r.lesson.ID},
				Detail:     "lesson placed in a slot the teacher marked unavailable",
			})
		}
	}

	auditWorkload(resolved, assignmentIndex, &report)
	auditTeacherDays(resolved, in.School, &report)
	auditCoverage(resolved, in.Assignments, &report)

	return report
}

func lessonLess(a, b resolvedLesson) bool {
	if a.date != b.date {
		return a.date < b.date
	}
	if a.slot.StartTime != b.slot.StartTime {
		return a.slot.StartTime < b.slot.StartTime
	}
	if a.lesson.TimeSlotID != b.lesson.TimeSlotID {
		return a.lesson.TimeSlotID < b.lesson.TimeSlotID
	}
	if a.teacherID != b.teacherID {
		return a.teacherID < b.teacherID
	}
	if a.lesson.TeachingAssignmentID != b.lesson.TeachingAssignmentID {
		return a.lesson.TeachingAssignmentID < b.lesson.TeachingAssignmentID
	}
	return a.lesson.ID < b.lesson.ID
}

// auditDoubleBookings counts pairs of lessons sharing (dimension, slot, date).
func auditDoubleBookings(resolved []resolvedLesson, report *ScheduleReport, kind ViolationKind, dimension func(resolvedLesson) string) int {
	groups := make(map[string][]resolvedLesson)
	var keys []string
	for _, r := range resolved {
		value := dimension(r)
		if value == "" {
			continue
		}
		key := value + "|" + r.lesson.TimeSlotID + "|" + r.date
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}

	pairs := 0
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		pairs += len(group) * (len(group) - 1) / 2
		ids := make([]string, 0, len(group))
		for _, r := range group {
			ids = append(ids, r.lesson.ID)
		}
		finding := AuditFinding{
			Kind:       kind,
			TimeSlotID: group[0].lesson.TimeSlotID,
			Date:       group[0].date,
			LessonIDs:  ids,
			Detail:     fmt.Sprintf("%d lessons share the same slot and date", len(group)),
		}
		switch kind {
		case KindTeacherDoubleBooking:
			finding.TeacherID = group[0].teacherID
		case KindClassDoubleBooking:
			finding.ClassOfferingID = group[0].offeringID
		case KindRoomDoubleBooking:
			finding.RoomID = dimension(group[0])
		}
		report.Findings = append(report.Findings, finding)
	}
	return pairs
}

// auditWorkload flags teachers whose lessons in any ISO week exceed their weekly cap.
func auditWorkload(resolved []resolvedLesson, assignments map[string]models.TeachingAssignment, report *ScheduleReport) {
	limits := make(map[string]int)
	for _, a := range assignments {
		lowerCap(limits, a)
	}

	counts := make(map[string]int)
	var keys []string
	for _, r := range resolved {
		year, week := r.lesson.Date.ISOWeek()
		key := fmt.Sprintf("%s|%04d-W%02d", r.teacherID, year, week)
		if _, ok := counts[key]; !ok {
			keys = append(keys, key)
		}
		counts[key]++
	}
	sort.Strings(keys)

	for _, key := range keys {
		teacherID, week := splitKey(key)
		limit, ok := limits[teacherID]
		if !ok {
			limit = models.UnlimitedPeriodsPerWeek
		}
		if counts[key] > limit {
			report.WorkloadViolations++
			report.Findings = append(report.Findings, AuditFinding{
				Kind:      KindWorkloadExceeded,
				TeacherID: teacherID,
				Date:      week,
				Detail:    fmt.Sprintf("%d lessons in week exceeds %d", counts[key], limit),
			})
		}
	}
}

// auditTeacherDays checks daily maximum, daily minimum, consecutive runs and breaks per teacher and date.
func auditTeacherDays(resolved []resolvedLesson, school models.SchoolConstraints, report *ScheduleReport) {
	days := make(map[string][]timemodel.Window)
	var keys []string
	for _, r := range resolved {
		if r.teacherID == "" {
			continue
		}
		key := r.teacherID + "|" + r.date
		if _, ok := days[key]; !ok {
			keys = append(keys, key)
		}
		days[key] = append(days[key], r.slot.Window())
	}
	sort.Strings(keys)

	for _, key := range keys {
		teacherID, date := splitKey(key)
		windows := days[key]
		sortWindows(windows)

		if school.MaxLessonsPerDay > 0 && len(windows) > school.MaxLessonsPerDay {
			report.DailyMaxViolations++
			report.Findings = append(report.Findings, AuditFinding{
				Kind:      KindDailyMaxExceeded,
				TeacherID: teacherID,
				Date:      date,
				Detail:    fmt.Sprintf("%d lessons exceeds daily maximum of %d", len(windows), school.MaxLessonsPerDay),
			})
		}
		if len(windows) < school.MinLessonsPerDay {
			report.DailyMinShortfalls++
			report.Findings = append(report.Findings, AuditFinding{
				Kind:      KindDailyMinShortfall,
				TeacherID: teacherID,
				Date:      date,
				Detail:    fmt.Sprintf("%d lessons is below daily minimum of %d", len(windows), school.MinLessonsPerDay),
			})
		}
		if school.MaxConsecutiveLessons > 0 {
			if run := timemodel.LongestConsecutiveRun(windows); run > school.MaxConsecutiveLessons {
				report.ConsecutiveViolations++
				report.Findings = append(report.Findings, AuditFinding{
					Kind:      KindConsecutiveExceeded,
					TeacherID: teacherID,
					Date:      date,
					Detail:    fmt.Sprintf("%d consecutive lessons exceeds %d", run, school.MaxConsecutiveLessons),
				})
			}
		}
		if school.BreakRequired {
			if missing := countMissingBreaks(windows); missing > 0 {
				report.MissingBreakViolations += missing
				report.Findings = append(report.Findings, AuditFinding{
					Kind:      KindMissingBreak,
					TeacherID: teacherID,
					Date:      date,
					Detail:    fmt.Sprintf("%d lesson pairs without a required break", missing),
				})
			}
		}
	}
}

// auditCoverage flags offerings whose weekly pattern holds fewer distinct slots than required.
func auditCoverage(resolved []resolvedLesson, assignments []models.TeachingAssignment, report *ScheduleReport) {
	required := make(map[string]int)
	for _, a := range assignments {
		if a.PeriodsPerWeek > required[a.ClassOfferingID] {
			required[a.ClassOfferingID] = a.PeriodsPerWeek
		} else if _, ok := required[a.ClassOfferingID]; !ok {
			required[a.ClassOfferingID] = a.PeriodsPerWeek
		}
	}

	covered := make(map[string]map[string]struct{})
	for _, r := range resolved {
		if covered[r.offeringID] == nil {
			covered[r.offeringID] = make(map[string]struct{})
		}
		covered[r.offeringID][r.lesson.TimeSlotID] = struct{}{}
	}

	offerings := make([]string, 0, len(required))
	for id := range required {
		offerings = append(offerings, id)
	}
	sort.Strings(offerings)

	for _, id := range offerings {
		need := required[id]
		have := len(covered[id])
		if need <= 0 || have >= need {
			continue
		}
		report.UnassignedOfferings++
		report.UnassignedOfferingIDs = append(report.UnassignedOfferingIDs, id)
		report.Findings = append(report.Findings, AuditFinding{
			Kind:            KindUnassignedOffering,
			ClassOfferingID: id,
			Detail:          fmt.Sprintf("%d of %d weekly periods scheduled", have, need),
		})
	}
}

func splitKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// WeeklyCaps resolves one weekly cap per teacher: the tightest cap across their assignments.
func WeeklyCaps(assignments []models.TeachingAssignment) map[string]int {
	caps := make(map[string]int)
	for _, a := range assignments {
		lowerCap(caps, a)
	}
	return caps
}

func lowerCap(caps map[string]int, a models.TeachingAssignment) {
	limit := a.TeacherMaxPeriods()
	if current, ok := caps[a.TeacherID]; !ok || limit < current {
		caps[a.TeacherID] = limit
	}
}
