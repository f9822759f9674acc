package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	ListHolidays(ctx context.Context, term models.Term) ([]models.Holiday, error)
}

type slotReader interface {
	List(ctx context.Context, filter models.TimeSlotFilter) ([]models.TimeSlot, error)
}

type assignmentReader interface {
	ListForRun(ctx context.Context, filter models.TeachingAssignmentFilter) ([]models.TeachingAssignment, error)
}

type teacherConstraintReader interface {
	ListByTeachers(ctx context.Context, teacherIDs []string) ([]models.TeacherConstraint, error)
}

type schoolConstraintReader interface {
	FindBySchool(ctx context.Context, schoolID string) (*models.SchoolConstraints, error)
}

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// runSnapshot is the read-only reference data a run or audit works against.
type runSnapshot struct {
	Term               models.Term
	Holidays           []models.Holiday
	Slots              []models.TimeSlot
	Assignments        []models.TeachingAssignment
	TeacherConstraints []models.TeacherConstraint
	School             models.SchoolConstraints
}

func (s *runSnapshot) auditInput() scheduler.AuditInput {
	return scheduler.AuditInput{
		Slots:              s.Slots,
		Assignments:        s.Assignments,
		TeacherConstraints: s.TeacherConstraints,
		School:             s.School,
	}
}

func (s *runSnapshot) teacherIDs() []string {
	return distinct(s.Assignments, func(a models.TeachingAssignment) string { return a.TeacherID })
}

func (s *runSnapshot) offeringIDs() []string {
	return distinct(s.Assignments, func(a models.TeachingAssignment) string { return a.ClassOfferingID })
}

func distinct(assignments []models.TeachingAssignment, key func(models.TeachingAssignment) string) []string {
	seen := make(map[string]struct{}, len(assignments))
	out := make([]string, 0, len(assignments))
	for _, a := range assignments {
		k := key(a)
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// snapshotLoader reads everything a run needs in one place so greedy runs, optimizer imports
// and report audits see the same data.
type snapshotLoader struct {
	terms              termReader
	slots              slotReader
	assignments        assignmentReader
	teacherConstraints teacherConstraintReader
	schools            schoolConstraintReader
	metrics            queryObserver
}

func (l *snapshotLoader) term(ctx context.Context, id string) (*models.Term, error) {
	term, err := l.terms.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	if err := inSchoolScope(ctx, term.SchoolID); err != nil {
		return nil, err
	}
	return term, nil
}

func (l *snapshotLoader) load(ctx context.Context, term models.Term, filter models.TeachingAssignmentFilter) (*runSnapshot, error) {
	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.ObserveDBQuery("run_snapshot", time.Since(start))
		}
	}()

	filter.TermID = term.ID
	filter.SchoolID = term.SchoolID

	snap := &runSnapshot{Term: term}
	var err error
	if snap.Holidays, err = l.terms.ListHolidays(ctx, term); err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	if snap.Slots, err = l.slots.List(ctx, models.TimeSlotFilter{SchoolID: term.SchoolID}); err != nil {
		return nil, fmt.Errorf("load time slots: %w", err)
	}
	if snap.Assignments, err = l.assignments.ListForRun(ctx, filter); err != nil {
		return nil, fmt.Errorf("load teaching assignments: %w", err)
	}
	if snap.TeacherConstraints, err = l.teacherConstraints.ListByTeachers(ctx, snap.teacherIDs()); err != nil {
		return nil, fmt.Errorf("load teacher constraints: %w", err)
	}
	school, err := l.schools.FindBySchool(ctx, term.SchoolID)
	if err != nil {
		return nil, fmt.Errorf("load school constraints: %w", err)
	}
	snap.School = *school
	return snap, nil
}
