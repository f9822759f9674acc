package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/timemodel"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/jobs"
)

type fakeGenerationStore struct {
	mu       sync.Mutex
	seq      int
	items    map[string]models.TimetableGeneration
	finished []models.GenerationUpdate
	refs     map[string]int
	// onUpdate runs under the lock before a status update, standing in for a concurrent writer.
	onUpdate func(items map[string]models.TimetableGeneration)
}

func newFakeGenerationStore() *fakeGenerationStore {
	return &fakeGenerationStore{items: map[string]models.TimetableGeneration{}, refs: map[string]int{}}
}

func (f *fakeGenerationStore) Create(_ context.Context, _ sqlx.ExtContext, generation *models.TimetableGeneration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if generation.ID == "" {
		generation.ID = fmt.Sprintf("gen-%d", f.seq)
	}
	if generation.Status == "" {
		generation.Status = models.GenerationStatusDraft
	}
	f.items[generation.ID] = *generation
	return nil
}

func (f *fakeGenerationStore) put(generation models.TimetableGeneration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[generation.ID] = generation
}

func (f *fakeGenerationStore) FindByID(_ context.Context, id string) (*models.TimetableGeneration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	generation, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("find generation: %w", sql.ErrNoRows)
	}
	return &generation, nil
}

func (f *fakeGenerationStore) ListByTerm(_ context.Context, termID string) ([]models.TimetableGeneration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TimetableGeneration
	for _, g := range f.items {
		if g.TermID == termID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeGenerationStore) FindPublishedByTerm(_ context.Context, termID string) (*models.TimetableGeneration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.items {
		if g.TermID == termID && g.Status == models.GenerationStatusPublished {
			found := g
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeGenerationStore) CountActiveReferences(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[id], nil
}

func (f *fakeGenerationStore) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, from, status models.GenerationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onUpdate != nil {
		f.onUpdate(f.items)
	}
	generation, ok := f.items[id]
	if !ok || generation.Status != from {
		return repository.ErrStatusChanged
	}
	if status == models.GenerationStatusPublished {
		for _, other := range f.items {
			if other.ID != id && other.TermID == generation.TermID && other.Status == models.GenerationStatusPublished {
				return repository.ErrPublishedExists
			}
		}
	}
	generation.Status = status
	f.items[id] = generation
	return nil
}

func (f *fakeGenerationStore) Finish(_ context.Context, _ sqlx.ExtContext, id string, update models.GenerationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	generation, ok := f.items[id]
	if !ok || generation.Status != update.From {
		return repository.ErrStatusChanged
	}
	generation.Status = update.Status
	generation.GeneratedAt = update.GeneratedAt
	generation.Notes = update.Notes
	generation.Report = update.Report
	generation.Failures = update.Failures
	f.items[id] = generation
	f.finished = append(f.finished, update)
	return nil
}

func (f *fakeGenerationStore) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.items, id)
	return nil
}

type fakeLessonStore struct {
	mu          sync.Mutex
	lessons     []models.ScheduledLesson
	rejectFirst int
}

func (f *fakeLessonStore) InsertBatch(_ context.Context, _ sqlx.ExtContext, lessons []models.ScheduledLesson) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectFirst > 0 {
		f.rejectFirst--
		return fmt.Errorf("insert lesson: %w", scheduler.ErrStorageDoubleBooking)
	}
	for _, lesson := range lessons {
		for _, existing := range f.lessons {
			if existing.GenerationID != lesson.GenerationID || existing.TimeSlotID != lesson.TimeSlotID || !existing.Date.Equal(lesson.Date) {
				continue
			}
			if existing.TeacherID == lesson.TeacherID || existing.ClassOfferingID == lesson.ClassOfferingID {
				return fmt.Errorf("insert lesson %s: %w", lesson.ID, scheduler.ErrStorageDoubleBooking)
			}
		}
	}
	f.lessons = append(f.lessons, lessons...)
	return nil
}

func (f *fakeLessonStore) List(_ context.Context, filter models.ScheduledLessonFilter) ([]models.ScheduledLesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ScheduledLesson
	for _, lesson := range f.lessons {
		if lesson.GenerationID != filter.GenerationID {
			continue
		}
		if filter.TeacherID != "" && lesson.TeacherID != filter.TeacherID {
			continue
		}
		if filter.From != nil && lesson.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && lesson.Date.After(*filter.To) {
			continue
		}
		out = append(out, lesson)
	}
	return out, nil
}

func (f *fakeLessonStore) DeleteByGeneration(_ context.Context, _ sqlx.ExtContext, generationID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.lessons[:0]
	var removed int64
	for _, lesson := range f.lessons {
		if lesson.GenerationID == generationID {
			removed++
			continue
		}
		kept = append(kept, lesson)
	}
	f.lessons = kept
	return removed, nil
}

func (f *fakeLessonStore) count(generationID string) int {
	lessons, _ := f.List(context.Background(), models.ScheduledLessonFilter{GenerationID: generationID})
	return len(lessons)
}

// fakeSnapshot serves terms, slots, assignments and constraints from memory.
type fakeSnapshot struct {
	term        models.Term
	holidays    []models.Holiday
	slots       []models.TimeSlot
	assignments []models.TeachingAssignment
	blocked     []models.TeacherConstraint
	school      models.SchoolConstraints
}

func (f *fakeSnapshot) FindByID(_ context.Context, id string) (*models.Term, error) {
	if id != f.term.ID {
		return nil, sql.ErrNoRows
	}
	term := f.term
	return &term, nil
}

func (f *fakeSnapshot) ListHolidays(context.Context, models.Term) ([]models.Holiday, error) {
	return f.holidays, nil
}

func (f *fakeSnapshot) List(context.Context, models.TimeSlotFilter) ([]models.TimeSlot, error) {
	return f.slots, nil
}

func (f *fakeSnapshot) ListForRun(context.Context, models.TeachingAssignmentFilter) ([]models.TeachingAssignment, error) {
	return f.assignments, nil
}

func (f *fakeSnapshot) ListByTeachers(context.Context, []string) ([]models.TeacherConstraint, error) {
	return f.blocked, nil
}

func (f *fakeSnapshot) FindBySchool(context.Context, string) (*models.SchoolConstraints, error) {
	school := f.school
	return &school, nil
}

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newTimetableSnapshot() *fakeSnapshot {
	slot := func(id string, startHour, startMin, endHour, endMin int) models.TimeSlot {
		return models.TimeSlot{
			ID:               id,
			SchoolID:         "school-1",
			DayOfWeek:        1,
			StartTime:        timemodel.NewTimeOfDay(startHour, startMin),
			EndTime:          timemodel.NewTimeOfDay(endHour, endMin),
			IsTeachingPeriod: true,
		}
	}
	return &fakeSnapshot{
		term: models.Term{
			ID:        "term-1",
			SchoolID:  "school-1",
			Name:      "Semester 1",
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
		},
		slots: []models.TimeSlot{
			slot("slot-1", 7, 0, 7, 45),
			slot("slot-2", 7, 45, 8, 30),
			slot("slot-3", 8, 45, 9, 30),
		},
		assignments: []models.TeachingAssignment{
			{ID: "assign-1", TeacherID: "teacher-1", ClassOfferingID: "offering-1", SchoolID: "school-1", TermID: "term-1", PeriodsPerWeek: 2},
			{ID: "assign-2", TeacherID: "teacher-2", ClassOfferingID: "offering-1", SchoolID: "school-1", TermID: "term-1", PeriodsPerWeek: 1},
		},
		school: models.SchoolConstraints{
			SchoolID:              "school-1",
			MaxLessonsPerDay:      6,
			MaxConsecutiveLessons: 3,
		},
	}
}

type generationFixture struct {
	service     *GenerationService
	generations *fakeGenerationStore
	lessons     *fakeLessonStore
	snapshot    *fakeSnapshot
	mock        sqlmock.Sqlmock
}

func newGenerationFixture(t *testing.T, cacheSvc *CacheService) *generationFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fx := &generationFixture{
		generations: newFakeGenerationStore(),
		lessons:     &fakeLessonStore{},
		snapshot:    newTimetableSnapshot(),
		mock:        mock,
	}
	fx.service = NewGenerationService(GenerationRepositories{
		Generations:        fx.generations,
		Lessons:            fx.lessons,
		Terms:              fx.snapshot,
		Slots:              fx.snapshot,
		Assignments:        fx.snapshot,
		TeacherConstraints: fx.snapshot,
		Schools:            fx.snapshot,
	}, sqlx.NewDb(db, "sqlmock"), cacheSvc, nil, nil, nil, GenerationConfig{
		Now: func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) },
	})
	return fx
}

func (fx *generationFixture) expectCommits(n int) {
	for i := 0; i < n; i++ {
		fx.mock.ExpectBegin()
		fx.mock.ExpectCommit()
	}
}

func (fx *generationFixture) completed(t *testing.T) *models.TimetableGeneration {
	t.Helper()
	fx.expectCommits(3)
	generation, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1", AnchorDate: "2024-01-01"})
	require.NoError(t, err)
	require.Equal(t, models.GenerationStatusCompleted, generation.Status)
	return generation
}

func requireAppError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, code, appErr.Code, appErr.Message)
}

func TestGenerationServiceCreateRunsInlineWithoutQueue(t *testing.T) {
	fx := newGenerationFixture(t, nil)

	generation := fx.completed(t)
	assert.Equal(t, models.AlgorithmGreedy, generation.Algorithm)
	assert.NotNil(t, generation.GeneratedAt)
	// three weekly lessons repeated over a two week term
	assert.Equal(t, 6, fx.lessons.count(generation.ID))
	assert.NoError(t, fx.mock.ExpectationsWereMet())

	detail, err := fx.service.Get(context.Background(), generation.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Report)
	assert.Equal(t, 3, detail.Report.TotalLessons)
	assert.True(t, detail.Report.Publishable())
	assert.Empty(t, detail.Failures)
}

func TestGenerationServiceQueuedRun(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	queue := &recordingQueue{}
	fx.service.AttachQueue(queue)

	generation, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1", AnchorDate: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusDraft, generation.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, GreedyRunJobType, queue.jobs[0].Type)

	fx.expectCommits(3)
	require.NoError(t, fx.service.HandleJob(context.Background(), queue.jobs[0]))

	stored, err := fx.generations.FindByID(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, stored.Status)
	assert.NoError(t, fx.mock.ExpectationsWereMet())

	err = fx.service.HandleJob(context.Background(), queue.jobs[0])
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestGenerationServiceCreateQueueFull(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	fx.service.AttachQueue(&recordingQueue{err: jobs.ErrQueueFull})

	_, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1"})
	requireAppError(t, err, appErrors.ErrBusy.Code)

	generations, err := fx.generations.ListByTerm(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Empty(t, generations)
}

func TestGenerationServiceCreateValidation(t *testing.T) {
	fx := newGenerationFixture(t, nil)

	_, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{})
	requireAppError(t, err, appErrors.ErrValidation.Code)

	_, err = fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "missing"})
	requireAppError(t, err, appErrors.ErrNotFound.Code)

	_, err = fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1", AnchorDate: "2024-03-01"})
	requireAppError(t, err, appErrors.ErrValidation.Code)
}

func TestGenerationServiceInvalidConstraintsFailRun(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	fx.snapshot.school.MinLessonsPerDay = 8

	generation, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1"})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFailed, generation.Status)
	require.NotNil(t, generation.Notes)
	assert.Contains(t, *generation.Notes, "invalid school constraints")
	assert.Zero(t, fx.lessons.count(generation.ID))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestGenerationServiceRetriesStorageRejection(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	fx.lessons.rejectFirst = 1

	fx.mock.ExpectBegin()
	fx.mock.ExpectRollback()
	fx.expectCommits(3)

	generation, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1", AnchorDate: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, generation.Status)
	assert.Equal(t, 6, fx.lessons.count(generation.ID))
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestGenerationServiceCancelQueuedDraft(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	queue := &recordingQueue{}
	fx.service.AttachQueue(queue)

	generation, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1"})
	require.NoError(t, err)

	_, err = fx.service.Cancel(context.Background(), generation.ID)
	require.NoError(t, err)
	require.NoError(t, fx.service.HandleJob(context.Background(), queue.jobs[0]))

	stored, err := fx.generations.FindByID(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFailed, stored.Status)
	require.NotNil(t, stored.Notes)
	assert.Equal(t, "run cancelled", *stored.Notes)
	assert.Zero(t, fx.lessons.count(generation.ID))

	_, err = fx.service.Cancel(context.Background(), generation.ID)
	requireAppError(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestGenerationServicePublish(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	first := fx.completed(t)
	second := fx.completed(t)

	published, err := fx.service.Publish(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusPublished, published.Status)

	_, err = fx.service.Publish(context.Background(), second.ID)
	requireAppError(t, err, appErrors.ErrPublishRejected.Code)

	_, err = fx.service.Publish(context.Background(), first.ID)
	requireAppError(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestGenerationServicePublishConflictsWithConcurrentStatusChange(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	generation := fx.completed(t)

	fx.generations.onUpdate = func(items map[string]models.TimetableGeneration) {
		g := items[generation.ID]
		g.Status = models.GenerationStatusFailed
		items[generation.ID] = g
	}
	_, err := fx.service.Publish(context.Background(), generation.ID)
	requireAppError(t, err, appErrors.ErrConflict.Code)

	fx.generations.onUpdate = nil
	stored, err := fx.generations.FindByID(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFailed, stored.Status)
}

func TestGenerationServicePublishRejectsUnassignedOfferings(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	fx.snapshot.assignments[0].PeriodsPerWeek = 5

	fx.expectCommits(3)
	generation, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{TermID: "term-1", AnchorDate: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, generation.Status)

	detail, err := fx.service.Get(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, detail.Failures)

	_, err = fx.service.Publish(context.Background(), generation.ID)
	requireAppError(t, err, appErrors.ErrPublishRejected.Code)
}

func TestGenerationServiceArchive(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	generation := fx.completed(t)

	_, err := fx.service.Archive(context.Background(), generation.ID)
	requireAppError(t, err, appErrors.ErrInvalidTransition.Code)

	_, err = fx.service.Publish(context.Background(), generation.ID)
	require.NoError(t, err)

	fx.generations.refs[generation.ID] = 1
	_, err = fx.service.Archive(context.Background(), generation.ID)
	requireAppError(t, err, appErrors.ErrConflict.Code)

	fx.generations.refs[generation.ID] = 0
	archived, err := fx.service.Archive(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusArchived, archived.Status)
}

func TestGenerationServiceDelete(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	generation := fx.completed(t)

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	require.NoError(t, fx.service.Delete(context.Background(), generation.ID))
	assert.Zero(t, fx.lessons.count(generation.ID))

	_, err := fx.service.Get(context.Background(), generation.ID)
	requireAppError(t, err, appErrors.ErrNotFound.Code)

	published := fx.completed(t)
	_, err = fx.service.Publish(context.Background(), published.ID)
	require.NoError(t, err)
	requireAppError(t, fx.service.Delete(context.Background(), published.ID), appErrors.ErrInvalidTransition.Code)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestGenerationServiceCarriesBaseGeneration(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	base := fx.completed(t)

	fx.expectCommits(1)
	next, err := fx.service.Create(context.Background(), dto.CreateGenerationRequest{
		TermID:           "term-1",
		BaseGenerationID: &base.ID,
		AnchorDate:       "2024-01-01",
	})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, next.Status)
	assert.Equal(t, 6, fx.lessons.count(next.ID))
	assert.NoError(t, fx.mock.ExpectationsWereMet())

	report, err := fx.service.Report(context.Background(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalLessons)
	assert.Zero(t, report.ConflictCount())
}

func TestGenerationServiceReportIsCached(t *testing.T) {
	cacheSvc := NewCacheService(newMemoryCache(), nil, time.Minute, nil, true)
	fx := newGenerationFixture(t, cacheSvc)
	generation := fx.completed(t)

	report, err := fx.service.Report(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalLessons)

	_, err = fx.lessons.DeleteByGeneration(context.Background(), nil, generation.ID)
	require.NoError(t, err)

	cached, err := fx.service.Report(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, cached.TotalLessons)
}

func TestGenerationServiceLessons(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	generation := fx.completed(t)

	lessons, err := fx.service.Lessons(context.Background(), generation.ID, dto.LessonQuery{TeacherID: "teacher-1", From: "2024-01-08"})
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	for _, lesson := range lessons {
		assert.Equal(t, "2024-01-08", lesson.DateKey())
	}

	_, err = fx.service.Lessons(context.Background(), generation.ID, dto.LessonQuery{From: "2024-01-08", To: "2024-01-01"})
	requireAppError(t, err, appErrors.ErrValidation.Code)
}

func TestGenerationServiceList(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	fx.completed(t)

	_, err := fx.service.List(context.Background(), dto.GenerationListQuery{})
	requireAppError(t, err, appErrors.ErrValidation.Code)

	generations, err := fx.service.List(context.Background(), dto.GenerationListQuery{TermID: "term-1"})
	require.NoError(t, err)
	assert.Len(t, generations, 1)
}

func TestGenerationServiceSchoolScope(t *testing.T) {
	fx := newGenerationFixture(t, nil)
	generation := fx.completed(t)

	own := models.WithSchoolScope(context.Background(), "school-1")
	other := models.WithSchoolScope(context.Background(), "school-2")

	_, err := fx.service.Get(own, generation.ID)
	require.NoError(t, err)

	_, err = fx.service.Get(other, generation.ID)
	requireAppError(t, err, appErrors.ErrForbidden.Code)
	_, err = fx.service.Report(other, generation.ID)
	requireAppError(t, err, appErrors.ErrForbidden.Code)
	_, err = fx.service.Publish(other, generation.ID)
	requireAppError(t, err, appErrors.ErrForbidden.Code)
	requireAppError(t, fx.service.Delete(other, generation.ID), appErrors.ErrForbidden.Code)
	_, err = fx.service.List(other, dto.GenerationListQuery{TermID: "term-1"})
	requireAppError(t, err, appErrors.ErrForbidden.Code)
	_, err = fx.service.Create(other, dto.CreateGenerationRequest{TermID: "term-1"})
	requireAppError(t, err, appErrors.ErrForbidden.Code)

	stored, err := fx.generations.FindByID(context.Background(), generation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, stored.Status)
}

func TestLifecycleErrorMapping(t *testing.T) {
	cases := map[error]string{
		scheduler.ErrPublishRejected:    appErrors.ErrPublishRejected.Code,
		scheduler.ErrArchiveBlocked:     appErrors.ErrConflict.Code,
		scheduler.ErrInvalidTransition:  appErrors.ErrInvalidTransition.Code,
		scheduler.ErrInvalidConstraints: appErrors.ErrInvalidConstraints.Code,
		sql.ErrConnDone:                 appErrors.ErrInternal.Code,
	}
	for err, code := range cases {
		requireAppError(t, lifecycleError(fmt.Errorf("wrapped: %w", err)), code)
	}
	assert.NoError(t, lifecycleError(nil))
}
