package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// Committer persists a placed lesson. Returning an error wrapping ErrStorageDoubleBooking
// makes the allocator treat the slot as taken and try the next candidate.
type Committer interface {
	Commit(ctx context.Context, lesson models.ScheduledLesson, slot models.TimeSlot) error
}

// CommitterFunc adapts a function to Committer.
type CommitterFunc func(ctx context.Context, lesson models.ScheduledLesson, slot models.TimeSlot) error

// Commit implements Committer.
func (f CommitterFunc) Commit(ctx context.Context, lesson models.ScheduledLesson, slot models.TimeSlot) error {
	return f(ctx, lesson, slot)
}

// AllocationInput is the snapshot a single run works on. The allocator never mutates it.
type AllocationInput struct {
	GenerationID       string
	Anchor             time.Time
	Assignments        []models.TeachingAssignment
	Slots              []models.TimeSlot
	TeacherConstraints []models.TeacherConstraint
	School             models.SchoolConstraints
	// ExistingLessons are weekly lessons already in place. They count toward each
	// assignment's periods and occupy their slots.
	ExistingLessons []models.ScheduledLesson
}

// AllocationResult is the outcome of a run, including partial output on failure or cancellation.
type AllocationResult struct {
	Carried   []models.ScheduledLesson `json:"carried"`
	Placed    []models.ScheduledLesson `json:"placed"`
	Failures  []SchedulingFailure      `json:"failures"`
	Report    ScheduleReport           `json:"report"`
	Cancelled bool                     `json:"cancelled"`
}

// Lessons returns carried and newly placed lessons together.
func (r *AllocationResult) Lessons() []models.ScheduledLesson {
	out := make([]models.ScheduledLesson, 0, len(r.Carried)+len(r.Placed))
	out = append(out, r.Carried...)
	out = append(out, r.Placed...)
	return out
}

// Allocator places lessons greedily, one period at a time, in the first slot that passes CanPlace.
type Allocator struct {
	committer Committer
	logger    *zap.Logger
}

// NewAllocator constructs an allocator. committer may be nil for in-memory runs.
func NewAllocator(committer Committer, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{committer: committer, logger: logger}
}

// storageRetries is how many storage double-booking rejections a period tolerates before failing.
const storageRetries = 1

type runState struct {
	input          AllocationInput
	slots          []models.TimeSlot
	slotIndex      map[string]models.TimeSlot
	unavailability Unavailability
	teacherLessons map[string][]Placement
	classLessons   map[string][]Placement
	teacherCounts  map[string]int
	teacherCaps    map[string]int
	result         *AllocationResult
}

// Allocate runs the greedy pass. Invalid constraints abort before any placement. A non-storage
// commit error stops the run and is returned together with the partial result.
func (a *Allocator) Allocate(ctx context.Context, in AllocationInput) (*AllocationResult, error) {
	if err := ValidateSchoolConstraints(in.School); err != nil {
		return nil, err
	}

	state := a.newState(in)
	existing := state.seed()

	assignments := append([]models.TeachingAssignment(nil), in.Assignments...)
	sort.SliceStable(assignments, func(i, j int) bool {
		x, y := assignments[i], assignments[j]
		if x.TeacherID != y.TeacherID {
			return x.TeacherID < y.TeacherID
		}
		if x.ClassOfferingID != y.ClassOfferingID {
			return x.ClassOfferingID < y.ClassOfferingID
		}
		return x.ID < y.ID
	})

	var runErr error
	for _, assignment := range assignments {
		if ctx.Err() != nil {
			state.result.Cancelled = true
			a.logger.Info("allocation cancelled", zap.String("generation_id", in.GenerationID), zap.Int("placed", len(state.result.Placed)))
			break
		}

		needed := assignment.PeriodsPerWeek - existing[assignment.ID]
		if needed <= 0 {
			continue
		}
		if err := a.allocateAssignment(ctx, state, assignment, needed); err != nil {
			runErr = err
			break
		}
	}

	state.result.Report = AuditSchedule(state.result.Lessons(), AuditInput{
		Slots:              in.Slots,
		Assignments:        in.Assignments,
		TeacherConstraints: in.TeacherConstraints,
		School:             in.School,
	})
	return state.result, runErr
}

func (a *Allocator) newState(in AllocationInput) *runState {
	var slots []models.TimeSlot
	index := make(map[string]models.TimeSlot, len(in.Slots))
	for _, slot := range in.Slots {
		index[slot.ID] = slot
		if slot.IsTeachingPeriod {
			slots = append(slots, slot)
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		x, y := slots[i], slots[j]
		if x.DayOfWeek != y.DayOfWeek {
			return x.DayOfWeek < y.DayOfWeek
		}
		if x.StartTime != y.StartTime {
			return x.StartTime < y.StartTime
		}
		return x.ID < y.ID
	})

	return &runState{
		input:          in,
		slots:          slots,
		slotIndex:      index,
		unavailability: NewUnavailability(in.TeacherConstraints),
		teacherLessons: make(map[string][]Placement),
		classLessons:   make(map[string][]Placement),
		teacherCounts:  make(map[string]int),
		teacherCaps:    WeeklyCaps(in.Assignments),
		result:         &AllocationResult{},
	}
}

// seed projects existing lessons into the reference week and returns per-assignment counts.
func (s *runState) seed() map[string]int {
	assignments := make(map[string]models.TeachingAssignment, len(s.input.Assignments))
	for _, assignment := range s.input.Assignments {
		assignments[assignment.ID] = assignment
	}

	counts := make(map[string]int)
	for _, lesson := range ProjectToWeek(s.input.ExistingLessons, s.input.Slots, s.input.Anchor, s.input.GenerationID) {
		if assignment, ok := assignments[lesson.TeachingAssignmentID]; ok {
			lesson.TeacherID = assignment.TeacherID
			lesson.ClassOfferingID = assignment.ClassOfferingID
		}
		s.record(lesson, s.slotIndex[lesson.TimeSlotID])
		s.result.Carried = append(s.result.Carried, lesson)
		counts[lesson.TeachingAssignmentID]++
	}
	return counts
}

// record adds a lesson to the running state. Carried lessons whose teacher or offering
// cannot be resolved are only tracked on the side that is known.
func (s *runState) record(lesson models.ScheduledLesson, slot models.TimeSlot) {
	placement := Placement{Lesson: lesson, Slot: slot}
	if lesson.TeacherID != "" {
		s.teacherLessons[lesson.TeacherID] = append(s.teacherLessons[lesson.TeacherID], placement)
		s.teacherCounts[lesson.TeacherID]++
	}
	if lesson.ClassOfferingID != "" {
		s.classLessons[lesson.ClassOfferingID] = append(s.classLessons[lesson.ClassOfferingID], placement)
	}
}

func (a *Allocator) allocateAssignment(ctx context.Context, s *runState, assignment models.TeachingAssignment, needed int) error {
	for period := 1; period <= needed; period++ {
		rejections := make(map[ViolationKind]int)
		storageRejected := 0
		placed := false

		for _, slot := range s.slots {
			date := ReferenceDate(s.input.Anchor, slot.DayOfWeek)
			err := CanPlace(Candidate{Assignment: assignment, Slot: slot, Date: date}, PlacementContext{
				TeacherLessons:     s.teacherLessons[assignment.TeacherID],
				ClassLessons:       s.classLessons[assignment.ClassOfferingID],
				Unavailability:     s.unavailability,
				School:             s.input.School,
				TeacherMaxPeriods:  s.teacherCaps[assignment.TeacherID],
				TeacherPeriodCount: s.teacherCounts[assignment.TeacherID],
			})
			if err != nil {
				rejections[KindOf(err)]++
				continue
			}

			lesson := models.ScheduledLesson{
				ID:                   LessonID(s.input.GenerationID, assignment.ID, slot.ID, date),
				TeachingAssignmentID: assignment.ID,
				TimeSlotID:           slot.ID,
				Date:                 date,
				GenerationID:         s.input.GenerationID,
				TeacherID:            assignment.TeacherID,
				ClassOfferingID:      assignment.ClassOfferingID,
			}
			if a.committer != nil {
				if err := a.committer.Commit(ctx, lesson, slot); err != nil {
					if !errors.Is(err, ErrStorageDoubleBooking) {
						return fmt.Errorf("commit lesson for assignment %s: %w", assignment.ID, err)
					}
					storageRejected++
					rejections[KindTeacherDoubleBooking]++
					a.logger.Warn("storage rejected lesson",
						zap.String("assignment_id", assignment.ID),
						zap.String("timeslot_id", slot.ID),
						zap.Int("attempt", storageRejected),
					)
					if storageRejected > storageRetries {
						break
					}
					continue
				}
			}

			s.record(lesson, slot)
			s.result.Placed = append(s.result.Placed, lesson)
			placed = true
			break
		}

		if !placed {
			failure := SchedulingFailure{
				AssignmentID:    assignment.ID,
				TeacherID:       assignment.TeacherID,
				ClassOfferingID: assignment.ClassOfferingID,
				Period:          period,
				Reason:          failureReason(len(s.slots), rejections, storageRejected),
				Rejections:      rejections,
			}
			s.result.Failures = append(s.result.Failures, failure)
			a.logger.Debug("no slot for period",
				zap.String("assignment_id", assignment.ID),
				zap.Int("period", period),
				zap.String("reason", failure.Reason),
			)
		}
	}
	return nil
}

func failureReason(slotCount int, rejections map[ViolationKind]int, storageRejected int) string {
	if slotCount == 0 {
		return "no teaching slots available"
	}
	if storageRejected > storageRetries {
		return "storage rejected placement as double booking after retry"
	}
	parts := make([]string, 0, len(rejections))
	for _, kind := range placementOrder {
		if n := rejections[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s x%d", kind, n))
		}
	}
	return "no slot passed constraints: " + strings.Join(parts, ", ")
}
