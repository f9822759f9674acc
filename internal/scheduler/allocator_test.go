package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
)

// 2024-01-01 is a Monday.
var anchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func slot(id string, day int, start, end string) models.TimeSlot {
	return models.TimeSlot{
		ID:               id,
		SchoolID:         "school-1",
		DayOfWeek:        day,
		StartTime:        timemodel.MustParseTimeOfDay(start),
		EndTime:          timemodel.MustParseTimeOfDay(end),
		IsTeachingPeriod: true,
	}
}

func assignment(id, teacher, offering string, periods int, max *int) models.TeachingAssignment {
	return models.TeachingAssignment{
		ID:                id,
		TeacherID:         teacher,
		ClassOfferingID:   offering,
		SchoolID:          "school-1",
		TermID:            "term-1",
		PeriodsPerWeek:    periods,
		MaxPeriodsPerWeek: max,
	}
}

func intPtr(v int) *int { return &v }

func relaxedSchool() models.SchoolConstraints {
	return models.SchoolConstraints{
		SchoolID:              "school-1",
		MaxLessonsPerDay:      6,
		MinLessonsPerDay:      0,
		MaxConsecutiveLessons: 3,
		BreakRequired:         false,
	}
}

// weekGrid builds six back-to-back 45 minute periods for Monday to Friday.
func weekGrid() []models.TimeSlot {
	var slots []models.TimeSlot
	for day := 1; day <= 5; day++ {
		start := timemodel.NewTimeOfDay(7, 30)
		for p := 1; p <= 6; p++ {
			end := start.Add(45)
			s := models.TimeSlot{
				ID:               fmt.Sprintf("d%d-p%d", day, p),
				SchoolID:         "school-1",
				DayOfWeek:        day,
				StartTime:        start,
				EndTime:          end,
				PeriodNumber:     intPtr(p),
				IsTeachingPeriod: true,
			}
			slots = append(slots, s)
			start = end
		}
	}
	return slots
}

// A 5 minute gap is neither back-to-back (< 5) nor a break (>= 15), so with breaks required the
// 09:50 slot is rejected as a missing break rather than a consecutive overrun. The lesson still
// lands on Tuesday.
func TestAllocateMovesToNextDayWhenGapIsTooShortForBreak(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-t", "offering-1", 2, intPtr(2))},
		Slots: []models.TimeSlot{
			slot("mon-1", 1, "09:00", "09:45"),
			slot("mon-2", 1, "09:50", "10:35"),
			slot("tue-1", 2, "09:00", "09:45"),
		},
		School: models.SchoolConstraints{MaxLessonsPerDay: 6, MaxConsecutiveLessons: 1, BreakRequired: true},
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.Placed, 2)
	assert.Empty(t, result.Failures)

	assert.Equal(t, "mon-1", result.Placed[0].TimeSlotID)
	assert.Equal(t, "2024-01-01", result.Placed[0].DateKey())
	assert.Equal(t, "tue-1", result.Placed[1].TimeSlotID)
	assert.Equal(t, "2024-01-02", result.Placed[1].DateKey())
	assert.True(t, result.Report.Publishable())

	err = CanPlace(Candidate{Assignment: in.Assignments[0], Slot: in.Slots[1], Date: anchor}, PlacementContext{
		TeacherLessons:     []Placement{{Lesson: result.Placed[0], Slot: in.Slots[0]}},
		Unavailability:     NewUnavailability(nil),
		School:             in.School,
		TeacherMaxPeriods:  2,
		TeacherPeriodCount: 1,
	})
	assert.Equal(t, KindMissingBreak, KindOf(err))
}

func TestAllocateRejectsBackToBackLessonOverConsecutiveLimit(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-t", "offering-1", 2, intPtr(2))},
		Slots: []models.TimeSlot{
			slot("mon-1", 1, "09:00", "09:45"),
			slot("mon-2", 1, "09:45", "10:30"),
			slot("tue-1", 2, "09:00", "09:45"),
		},
		School: models.SchoolConstraints{MaxLessonsPerDay: 6, MaxConsecutiveLessons: 1, BreakRequired: true},
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.Placed, 2)
	assert.Equal(t, "tue-1", result.Placed[1].TimeSlotID)
}

func TestAllocateNeverUsesUnavailableSlot(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-t", "offering-1", 3, nil)},
		Slots: []models.TimeSlot{
			slot("mon-1", 1, "09:00", "09:45"),
			slot("mon-2", 1, "10:00", "10:45"),
			slot("tue-1", 2, "09:00", "09:45"),
			slot("wed-1", 3, "09:00", "09:45"),
		},
		TeacherConstraints: []models.TeacherConstraint{{ID: "c-1", TeacherID: "teacher-t", TimeSlotID: "mon-1"}},
		School:             relaxedSchool(),
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.Placed, 3)
	for _, lesson := range result.Lessons() {
		assert.False(t, lesson.TeacherID == "teacher-t" && lesson.TimeSlotID == "mon-1", "lesson %s placed in blocked slot", lesson.ID)
	}
	assert.Zero(t, result.Report.UnavailabilityViolations)
}

func TestAllocateIsDeterministic(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments: []models.TeachingAssignment{
			assignment("a-3", "teacher-b", "offering-2", 4, nil),
			assignment("a-1", "teacher-a", "offering-1", 5, intPtr(8)),
			assignment("a-2", "teacher-a", "offering-2", 4, intPtr(8)),
			assignment("a-4", "teacher-c", "offering-1", 3, nil),
		},
		Slots:  weekGrid(),
		School: models.DefaultSchoolConstraints("school-1"),
	}

	first, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)

	reversed := in
	reversed.Assignments = []models.TeachingAssignment{in.Assignments[3], in.Assignments[2], in.Assignments[1], in.Assignments[0]}
	second, err := NewAllocator(nil, nil).Allocate(context.Background(), reversed)
	require.NoError(t, err)

	assert.Equal(t, first.Placed, second.Placed)
	assert.Equal(t, first.Failures, second.Failures)
	assert.Equal(t, first.Report, second.Report)
}

func TestAllocateProducesNoDoubleBookingsAndRespectsBounds(t *testing.T) {
	school := models.SchoolConstraints{MaxLessonsPerDay: 4, MinLessonsPerDay: 0, MaxConsecutiveLessons: 2, BreakRequired: false}
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments: []models.TeachingAssignment{
			assignment("a-1", "teacher-a", "offering-1", 6, intPtr(9)),
			assignment("a-2", "teacher-a", "offering-2", 6, intPtr(9)),
			assignment("a-3", "teacher-b", "offering-1", 5, nil),
			assignment("a-4", "teacher-b", "offering-3", 5, nil),
			assignment("a-5", "teacher-c", "offering-2", 4, intPtr(3)),
			assignment("a-6", "teacher-c", "offering-3", 4, intPtr(3)),
		},
		Slots:  weekGrid(),
		School: school,
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	lessons := result.Lessons()
	require.NotEmpty(t, lessons)

	for i := range lessons {
		for j := i + 1; j < len(lessons); j++ {
			a, b := lessons[i], lessons[j]
			if a.TimeSlotID != b.TimeSlotID || a.DateKey() != b.DateKey() {
				continue
			}
			assert.NotEqual(t, a.TeacherID, b.TeacherID)
			assert.NotEqual(t, a.ClassOfferingID, b.ClassOfferingID)
		}
	}

	counts := map[string]int{}
	for _, l := range lessons {
		counts[l.TeacherID]++
	}
	assert.LessOrEqual(t, counts["teacher-a"], 9)
	assert.LessOrEqual(t, counts["teacher-c"], 3)
	assert.NotEmpty(t, result.Failures)

	slotIndex := map[string]models.TimeSlot{}
	for _, s := range in.Slots {
		slotIndex[s.ID] = s
	}
	days := map[string][]timemodel.Window{}
	for _, l := range lessons {
		key := l.TeacherID + "|" + l.DateKey()
		days[key] = append(days[key], slotIndex[l.TimeSlotID].Window())
	}
	for key, windows := range days {
		sortWindows(windows)
		assert.LessOrEqual(t, timemodel.LongestConsecutiveRun(windows), school.MaxConsecutiveLessons, key)
		assert.LessOrEqual(t, len(windows), school.MaxLessonsPerDay, key)
	}

	assert.Zero(t, result.Report.ConflictCount())
}

func TestAllocateContinuesAfterUnschedulableAssignment(t *testing.T) {
	slots := []models.TimeSlot{
		slot("mon-1", 1, "09:00", "09:45"),
		slot("tue-1", 2, "09:00", "09:45"),
	}
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments: []models.TeachingAssignment{
			assignment("a-1", "teacher-a", "offering-1", 1, nil),
			assignment("a-2", "teacher-b", "offering-2", 2, nil),
		},
		Slots: slots,
		TeacherConstraints: []models.TeacherConstraint{
			{TeacherID: "teacher-a", TimeSlotID: "mon-1"},
			{TeacherID: "teacher-a", TimeSlotID: "tue-1"},
		},
		School: relaxedSchool(),
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	failure := result.Failures[0]
	assert.Equal(t, "a-1", failure.AssignmentID)
	assert.Equal(t, 2, failure.Rejections[KindHardUnavailability])
	assert.Contains(t, failure.Reason, string(KindHardUnavailability))

	require.Len(t, result.Placed, 2)
	for _, l := range result.Placed {
		assert.Equal(t, "a-2", l.TeachingAssignmentID)
	}
	assert.Equal(t, 1, result.Report.UnassignedOfferings)
	assert.Equal(t, []string{"offering-1"}, result.Report.UnassignedOfferingIDs)
	assert.False(t, result.Report.Publishable())
}

func TestAllocateReportsNoSlots(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-a", "offering-1", 1, nil)},
		Slots:        []models.TimeSlot{{ID: "break", DayOfWeek: 1, StartTime: 600, EndTime: 620}},
		School:       relaxedSchool(),
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "no teaching slots available", result.Failures[0].Reason)
}

func TestAllocateRejectsInvalidConstraints(t *testing.T) {
	in := AllocationInput{
		Anchor:      anchor,
		Assignments: []models.TeachingAssignment{assignment("a-1", "teacher-a", "offering-1", 1, nil)},
		Slots:       weekGrid(),
		School:      models.SchoolConstraints{MaxLessonsPerDay: 2, MinLessonsPerDay: 3, MaxConsecutiveLessons: 1},
	}

	calls := 0
	committer := CommitterFunc(func(context.Context, models.ScheduledLesson, models.TimeSlot) error {
		calls++
		return nil
	})
	result, err := NewAllocator(committer, nil).Allocate(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConstraints))
	assert.Nil(t, result)
	assert.Zero(t, calls)
}

func TestAllocateRetriesStorageRejectionOnNextSlot(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-a", "offering-1", 1, nil)},
		Slots: []models.TimeSlot{
			slot("mon-1", 1, "09:00", "09:45"),
			slot("tue-1", 2, "09:00", "09:45"),
		},
		School: relaxedSchool(),
	}

	var attempted []string
	committer := CommitterFunc(func(_ context.Context, lesson models.ScheduledLesson, _ models.TimeSlot) error {
		attempted = append(attempted, lesson.TimeSlotID)
		if lesson.TimeSlotID == "mon-1" {
			return fmt.Errorf("insert lesson: %w", ErrStorageDoubleBooking)
		}
		return nil
	})

	result, err := NewAllocator(committer, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"mon-1", "tue-1"}, attempted)
	require.Len(t, result.Placed, 1)
	assert.Equal(t, "tue-1", result.Placed[0].TimeSlotID)
	assert.Empty(t, result.Failures)
}

func TestAllocateRecordsFailureAfterSecondStorageRejection(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-a", "offering-1", 1, nil)},
		Slots:        weekGrid(),
		School:       relaxedSchool(),
	}

	calls := 0
	committer := CommitterFunc(func(context.Context, models.ScheduledLesson, models.TimeSlot) error {
		calls++
		return ErrStorageDoubleBooking
	})

	result, err := NewAllocator(committer, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Empty(t, result.Placed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Reason, "storage")
}

func TestAllocateStopsOnCommitError(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments: []models.TeachingAssignment{
			assignment("a-1", "teacher-a", "offering-1", 1, nil),
			assignment("a-2", "teacher-b", "offering-2", 1, nil),
		},
		Slots:  weekGrid(),
		School: relaxedSchool(),
	}

	boom := errors.New("connection reset")
	committer := CommitterFunc(func(_ context.Context, lesson models.ScheduledLesson, _ models.TimeSlot) error {
		if lesson.TeachingAssignmentID == "a-2" {
			return boom
		}
		return nil
	})

	result, err := NewAllocator(committer, nil).Allocate(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, result)
	assert.Len(t, result.Placed, 1)
}

func TestAllocateStopsBetweenAssignmentsWhenCancelled(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments: []models.TeachingAssignment{
			assignment("a-1", "teacher-a", "offering-1", 2, nil),
			assignment("a-2", "teacher-b", "offering-2", 2, nil),
		},
		Slots:  weekGrid(),
		School: relaxedSchool(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	committer := CommitterFunc(func(context.Context, models.ScheduledLesson, models.TimeSlot) error {
		cancel()
		return nil
	})

	result, err := NewAllocator(committer, nil).Allocate(ctx, in)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	// the running assignment finishes its periods before the flag is checked
	assert.Len(t, result.Placed, 2)
	for _, l := range result.Placed {
		assert.Equal(t, "a-1", l.TeachingAssignmentID)
	}
	assert.Equal(t, 2, result.Report.TotalLessons)
}

func TestAllocateCountsExistingLessons(t *testing.T) {
	slots := weekGrid()
	in := AllocationInput{
		GenerationID: "gen-2",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-a", "offering-1", 3, nil)},
		Slots:        slots,
		School:       relaxedSchool(),
		ExistingLessons: []models.ScheduledLesson{
			{ID: "old-1", TeachingAssignmentID: "a-1", TimeSlotID: "d1-p1", Date: anchor.AddDate(0, 0, -7), GenerationID: "gen-1"},
			{ID: "old-2", TeachingAssignmentID: "a-1", TimeSlotID: "d1-p1", Date: anchor.AddDate(0, 0, -14), GenerationID: "gen-1"},
			{ID: "old-3", TeachingAssignmentID: "a-1", TimeSlotID: "d2-p1", Date: anchor.AddDate(0, 0, -6), GenerationID: "gen-1"},
		},
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, result.Carried, 2)
	for _, l := range result.Carried {
		assert.Equal(t, "gen-2", l.GenerationID)
		assert.Equal(t, "teacher-a", l.TeacherID)
	}
	assert.Equal(t, "2024-01-01", result.Carried[0].DateKey())
	require.Len(t, result.Placed, 1)
	assert.Equal(t, "d1-p2", result.Placed[0].TimeSlotID)
	assert.Zero(t, result.Report.UnassignedOfferings)
}

func TestAllocateLessonIDsAreStable(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-a", "offering-1", 1, nil)},
		Slots:        weekGrid(),
		School:       relaxedSchool(),
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.Placed, 1)
	assert.Equal(t, LessonID("gen-1", "a-1", "d1-p1", anchor), result.Placed[0].ID)
}

func TestAllocateUsesTightestWeeklyCapPerTeacher(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-1",
		Anchor:       anchor,
		Assignments: []models.TeachingAssignment{
			assignment("a-1", "teacher-t", "offering-1", 4, nil),
			assignment("a-2", "teacher-t", "offering-2", 1, intPtr(2)),
		},
		Slots:  weekGrid(),
		School: relaxedSchool(),
	}

	result, err := NewAllocator(nil, nil).Allocate(context.Background(), in)
	require.NoError(t, err)

	assert.Len(t, result.Placed, 2)
	require.Len(t, result.Failures, 3)
	for _, failure := range result.Failures {
		assert.Positive(t, failure.Rejections[KindWorkloadExceeded])
	}
	assert.Zero(t, result.Report.WorkloadViolations)
	assert.Zero(t, result.Report.ConflictCount())
}

func TestAllocateSeedSkipsUnresolvedTeacher(t *testing.T) {
	in := AllocationInput{
		GenerationID: "gen-2",
		Anchor:       anchor,
		Assignments:  []models.TeachingAssignment{assignment("a-1", "teacher-a", "offering-1", 1, nil)},
		Slots:        weekGrid(),
		School:       relaxedSchool(),
		ExistingLessons: []models.ScheduledLesson{
			{ID: "old-1", TeachingAssignmentID: "retired-1", TimeSlotID: "d1-p1", Date: anchor, GenerationID: "gen-1"},
			{ID: "old-2", TeachingAssignmentID: "retired-2", TimeSlotID: "d1-p2", Date: anchor, GenerationID: "gen-1", ClassOfferingID: "offering-9"},
		},
	}

	state := NewAllocator(nil, nil).newState(in)
	counts := state.seed()

	assert.Len(t, state.result.Carried, 2)
	assert.Equal(t, 1, counts["retired-1"])
	assert.NotContains(t, state.teacherLessons, "")
	assert.NotContains(t, state.teacherCounts, "")
	assert.NotContains(t, state.classLessons, "")
	assert.Len(t, state.classLessons["offering-9"], 1)
}
