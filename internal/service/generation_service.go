package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/pkg/cache"
	"github.com/noah-isme/sma-timetable-engine/pkg/database"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/jobs"
)

// GreedyRunJobType identifies queued greedy allocation runs.
const GreedyRunJobType = "timetable.greedy"

type generationStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, generation *models.TimetableGeneration) error
	FindByID(ctx context.Context, id string) (*models.TimetableGeneration, error)
	ListByTerm(ctx context.Context, termID string) ([]models.TimetableGeneration, error)
	FindPublishedByTerm(ctx context.Context, termID string) (*models.TimetableGeneration, error)
	CountActiveReferences(ctx context.Context, id string) (int, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.GenerationStatus) error
	Finish(ctx context.Context, exec sqlx.ExtContext, id string, update models.GenerationUpdate) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type lessonStore interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, lessons []models.ScheduledLesson) error
	List(ctx context.Context, filter models.ScheduledLessonFilter) ([]models.ScheduledLesson, error)
	DeleteByGeneration(ctx context.Context, exec sqlx.ExtContext, generationID string) (int64, error)
}

type runQueue interface {
	Enqueue(job jobs.Job) error
}

type runMetrics interface {
	queryObserver
	RunStarted() func()
	ObserveGenerationRun(algorithm models.GenerationAlgorithm, status models.GenerationStatus, placed, failures int, duration time.Duration)
}

type optimizerCanceller interface {
	CancelGeneration(ctx context.Context, generation *models.TimetableGeneration) error
}

type noopRunMetrics struct{}

func (noopRunMetrics) ObserveDBQuery(string, time.Duration) {}

func (noopRunMetrics) RunStarted() func() {
	return func() {}
}

func (noopRunMetrics) ObserveGenerationRun(models.GenerationAlgorithm, models.GenerationStatus, int, int, time.Duration) {}

// GenerationConfig tunes run execution.
type GenerationConfig struct {
	RunTimeout     time.Duration
	ReportCacheTTL time.Duration
	Now            func() time.Time
}

// GenerationRepositories groups the stores a GenerationService reads and writes.
type GenerationRepositories struct {
	Generations        generationStore
	Lessons            lessonStore
	Terms              termReader
	Slots              slotReader
	Assignments        assignmentReader
	TeacherConstraints teacherConstraintReader
	Schools            schoolConstraintReader
}

// generationRun is the queued payload of a greedy run.
type generationRun struct {
	GenerationID string
	Anchor       time.Time
	Filter       models.TeachingAssignmentFilter
}

// GenerationService drives timetable generations through their lifecycle.
type GenerationService struct {
	generations generationStore
	lessons     lessonStore
	loader      *snapshotLoader
	tx          database.Beginner
	cache       *CacheService
	metrics     runMetrics
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         GenerationConfig

	queue     runQueue
	optimizer optimizerCanceller

	mu      sync.Mutex
	running map[string]context.CancelFunc
	pending map[string]struct{}
}

// NewGenerationService wires generation dependencies.
func NewGenerationService(
	repos GenerationRepositories,
	tx database.Beginner,
	cacheSvc *CacheService,
	metrics runMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg GenerationConfig,
) *GenerationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopRunMetrics{}
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.ReportCacheTTL <= 0 {
		cfg.ReportCacheTTL = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &GenerationService{
		generations: repos.Generations,
		lessons:     repos.Lessons,
		loader: &snapshotLoader{
			terms:              repos.Terms,
			slots:              repos.Slots,
			assignments:        repos.Assignments,
			teacherConstraints: repos.TeacherConstraints,
			schools:            repos.Schools,
			metrics:            metrics,
		},
		tx:        tx,
		cache:     cacheSvc,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		running:   make(map[string]context.CancelFunc),
		pending:   make(map[string]struct{}),
	}
}

// AttachQueue routes new greedy runs through queue. Without a queue runs execute inline.
func (s *GenerationService) AttachQueue(queue runQueue) {
	s.queue = queue
}

// AttachOptimizer lets Cancel reach optimizer-backed generations.
func (s *GenerationService) AttachOptimizer(optimizer optimizerCanceller) {
	s.optimizer = optimizer
}

// Create records a draft generation and schedules its greedy run.
func (s *GenerationService) Create(ctx context.Context, req dto.CreateGenerationRequest) (*models.TimetableGeneration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}

	term, err := s.loader.term(ctx, req.TermID)
	if err != nil {
		return nil, err
	}

	anchor, err := s.anchorFor(req.AnchorDate, *term)
	if err != nil {
		return nil, err
	}

	if req.BaseGenerationID != nil {
		base, err := s.find(ctx, *req.BaseGenerationID)
		if err != nil {
			return nil, err
		}
		if base.SchoolID != term.SchoolID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "base generation belongs to another school")
		}
		switch base.Status {
		case models.GenerationStatusCompleted, models.GenerationStatusPublished, models.GenerationStatusArchived:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("base generation is %s", base.Status))
		}
	}

	generation := &models.TimetableGeneration{
		TermID:           term.ID,
		SchoolID:         term.SchoolID,
		Status:           models.GenerationStatusDraft,
		Algorithm:        models.AlgorithmGreedy,
		BaseGenerationID: req.BaseGenerationID,
		Notes:            req.Notes,
	}
	if err := s.generations.Create(ctx, nil, generation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create generation")
	}

	run := generationRun{
		GenerationID: generation.ID,
		Anchor:       anchor,
		Filter: models.TeachingAssignmentFilter{
			DepartmentID: req.DepartmentID,
			GradeLevel:   req.GradeLevel,
		},
	}

	if s.queue == nil {
		if _, err := s.Run(ctx, run); err != nil {
			s.logger.Warn("inline generation run failed", zap.String("generation_id", generation.ID), zap.Error(err))
		}
		return s.find(ctx, generation.ID)
	}

	if err := s.queue.Enqueue(jobs.Job{ID: generation.ID, Type: GreedyRunJobType, Payload: run}); err != nil {
		s.logger.Warn("generation not queued", zap.String("generation_id", generation.ID), zap.Error(err))
		if delErr := s.generations.Delete(ctx, nil, generation.ID); delErr != nil {
			s.logger.Error("failed to remove unqueued draft", zap.String("generation_id", generation.ID), zap.Error(delErr))
		}
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.ErrBusy
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue generation")
	}

	s.logger.Info("generation queued",
		zap.String("generation_id", generation.ID),
		zap.String("term_id", term.ID),
		zap.Time("anchor", anchor),
	)
	return generation, nil
}

func (s *GenerationService) anchorFor(raw string, term models.Term) (time.Time, error) {
	if raw != "" {
		anchor, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "anchorDate must use YYYY-MM-DD")
		}
		if anchor.After(scheduler.DateOnly(term.EndDate)) {
			return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "anchorDate falls after the term ends")
		}
		return anchor, nil
	}
	anchor := scheduler.DateOnly(s.cfg.Now())
	if start := scheduler.DateOnly(term.StartDate); anchor.Before(start) {
		anchor = start
	}
	return anchor, nil
}

// HandleJob executes a queued run. Runs that reached the generating state are never retried.
func (s *GenerationService) HandleJob(ctx context.Context, job jobs.Job) error {
	run, ok := job.Payload.(generationRun)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID))
	}
	_, err := s.Run(ctx, run)
	var notStarted *runNotStartedError
	if err != nil && !errors.As(err, &notStarted) {
		return jobs.Permanent(err)
	}
	return err
}

type runNotStartedError struct{ err error }

func (e *runNotStartedError) Error() string { return "run not started: " + e.err.Error() }
func (e *runNotStartedError) Unwrap() error { return e.err }

// Run executes one greedy allocation for a draft generation and records its outcome.
// The partial result is returned alongside any error.
func (s *GenerationService) Run(ctx context.Context, run generationRun) (*scheduler.AllocationResult, error) {
	generation, err := s.generations.FindByID(ctx, run.GenerationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.mu.Lock()
			delete(s.pending, run.GenerationID)
			s.mu.Unlock()
			return nil, fmt.Errorf("generation %s no longer exists", run.GenerationID)
		}
		return nil, &runNotStartedError{err: err}
	}
	if err := scheduler.Transition(generation.Status, models.GenerationStatusGenerating, scheduler.TransitionGuard{}); err != nil {
		return nil, err
	}
	if err := s.generations.UpdateStatus(ctx, nil, generation.ID, generation.Status, models.GenerationStatusGenerating); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, fmt.Errorf("generation %s was picked up elsewhere: %w", generation.ID, err)
		}
		return nil, &runNotStartedError{err: err}
	}
	generation.Status = models.GenerationStatusGenerating

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	s.track(generation.ID, cancel)
	defer s.untrack(generation.ID)

	done := s.metrics.RunStarted()
	defer done()
	started := s.cfg.Now()

	s.logger.Info("generation run started", zap.String("generation_id", generation.ID), zap.String("term_id", generation.TermID))
	result, runErr := s.execute(runCtx, generation, run)
	if runErr != nil && runCtx.Err() != nil && !errors.Is(runErr, scheduler.ErrInvalidConstraints) {
		s.logger.Debug("run interrupted", zap.String("generation_id", generation.ID), zap.Error(runErr))
		if result == nil {
			result = &scheduler.AllocationResult{}
		}
		result.Cancelled = true
		runErr = nil
	}

	status := models.GenerationStatusCompleted
	var note string
	switch {
	case errors.Is(runErr, scheduler.ErrInvalidConstraints):
		status, note = models.GenerationStatusFailed, runErr.Error()
	case runErr != nil:
		status, note = models.GenerationStatusFailed, "run aborted: "+runErr.Error()
	case result != nil && result.Cancelled:
		status, note = models.GenerationStatusFailed, "run cancelled"
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			note = fmt.Sprintf("run exceeded %s budget", s.cfg.RunTimeout)
		}
	}

	finishCtx := context.WithoutCancel(ctx)
	if err := s.finish(finishCtx, generation, status, note, result); err != nil {
		s.logger.Error("failed to record generation outcome", zap.String("generation_id", generation.ID), zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	placed, failures := 0, 0
	if result != nil {
		placed, failures = len(result.Placed), len(result.Failures)
	}
	s.metrics.ObserveGenerationRun(models.AlgorithmGreedy, status, placed, failures, s.cfg.Now().Sub(started))
	s.logger.Info("generation run finished",
		zap.String("generation_id", generation.ID),
		zap.String("status", string(status)),
		zap.Int("placed", placed),
		zap.Int("failures", failures),
		zap.Duration("elapsed", s.cfg.Now().Sub(started)),
	)
	return result, runErr
}

func (s *GenerationService) execute(ctx context.Context, generation *models.TimetableGeneration, run generationRun) (*scheduler.AllocationResult, error) {
	if ctx.Err() != nil {
		return &scheduler.AllocationResult{Cancelled: true}, nil
	}
	term, err := s.loader.term(ctx, generation.TermID)
	if err != nil {
		return nil, err
	}
	snap, err := s.loader.load(ctx, *term, run.Filter)
	if err != nil {
		return nil, err
	}
	if err := scheduler.ValidateSchoolConstraints(snap.School); err != nil {
		return nil, err
	}

	var existing []models.ScheduledLesson
	if generation.BaseGenerationID != nil {
		existing, err = s.lessons.List(ctx, models.ScheduledLessonFilter{GenerationID: *generation.BaseGenerationID})
		if err != nil {
			return nil, fmt.Errorf("load base lessons: %w", err)
		}
		carried := scheduler.ProjectToWeek(existing, snap.Slots, run.Anchor, generation.ID)
		if err := s.persist(ctx, snap, carried); err != nil {
			return nil, fmt.Errorf("carry base lessons: %w", err)
		}
	}

	committer := scheduler.CommitterFunc(func(ctx context.Context, lesson models.ScheduledLesson, _ models.TimeSlot) error {
		return s.persist(ctx, snap, []models.ScheduledLesson{lesson})
	})
	return scheduler.NewAllocator(committer, s.logger).Allocate(ctx, scheduler.AllocationInput{
		GenerationID:       generation.ID,
		Anchor:             run.Anchor,
		Assignments:        snap.Assignments,
		Slots:              snap.Slots,
		TeacherConstraints: snap.TeacherConstraints,
		School:             snap.School,
		ExistingLessons:    existing,
	})
}

// persist writes every term occurrence of the weekly lessons atomically.
func (s *GenerationService) persist(ctx context.Context, snap *runSnapshot, weekly []models.ScheduledLesson) error {
	occurrences := scheduler.ExpandOccurrences(weekly, snap.Slots, snap.Term, snap.Holidays)
	if len(occurrences) == 0 {
		return nil
	}
	return database.WithTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		return s.lessons.InsertBatch(ctx, tx, occurrences)
	})
}

func (s *GenerationService) finish(ctx context.Context, generation *models.TimetableGeneration, status models.GenerationStatus, note string, result *scheduler.AllocationResult) error {
	outcome := runOutcome{Status: status, Note: note, At: s.cfg.Now()}
	if result != nil {
		outcome.Report = &result.Report
		outcome.Failures = result.Failures
	}
	return finishGeneration(ctx, s.generations, nil, s.cache, generation, outcome)
}

// runOutcome is what a finished greedy run or optimizer import records on its generation.
type runOutcome struct {
	Status   models.GenerationStatus
	Note     string
	Report   *scheduler.ScheduleReport
	Failures []scheduler.SchedulingFailure
	At       time.Time
}

// finishGeneration records outcome on generation through exec, which may be nil or a caller's tx.
// It returns repository.ErrStatusChanged when another caller moved the generation first.
func finishGeneration(ctx context.Context, store generationStore, exec sqlx.ExtContext, cacheSvc *CacheService, generation *models.TimetableGeneration, outcome runOutcome) error {
	if err := scheduler.Transition(generation.Status, outcome.Status, scheduler.TransitionGuard{}); err != nil {
		return err
	}
	update := models.GenerationUpdate{From: generation.Status, Status: outcome.Status, GeneratedAt: &outcome.At, Notes: generation.Notes}
	if outcome.Note != "" {
		update.Notes = &outcome.Note
	}
	if outcome.Report != nil {
		report, err := json.Marshal(outcome.Report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		update.Report = report
	}
	if len(outcome.Failures) > 0 {
		failures, err := json.Marshal(outcome.Failures)
		if err != nil {
			return fmt.Errorf("encode failures: %w", err)
		}
		update.Failures = failures
	}
	if err := store.Finish(ctx, exec, generation.ID, update); err != nil {
		return err
	}
	generation.Status = outcome.Status
	generation.GeneratedAt = update.GeneratedAt
	generation.Notes = update.Notes
	cacheSvc.Invalidate(ctx, cache.Key("report", generation.ID))
	return nil
}

func (s *GenerationService) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[id] = cancel
	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		cancel()
	}
}

func (s *GenerationService) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

// Cancel stops a queued or running generation. The run ends as failed and keeps its partial lessons.
func (s *GenerationService) Cancel(ctx context.Context, id string) (*models.TimetableGeneration, error) {
	generation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	switch generation.Status {
	case models.GenerationStatusDraft:
		s.mu.Lock()
		s.pending[id] = struct{}{}
		s.mu.Unlock()
		return generation, nil
	case models.GenerationStatusGenerating:
		if generation.Algorithm == models.AlgorithmOptimizer {
			if s.optimizer == nil {
				return nil, appErrors.ErrOptimizerDown
			}
			if err := s.optimizer.CancelGeneration(ctx, generation); err != nil {
				return nil, err
			}
			return s.find(ctx, id)
		}
		s.mu.Lock()
		cancel, ok := s.running[id]
		s.mu.Unlock()
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrConflict, "generation is not running on this instance")
		}
		cancel()
		return generation, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot cancel %s generation", generation.Status))
	}
}

// Publish promotes a completed, conflict-free generation to the term's published timetable.
func (s *GenerationService) Publish(ctx context.Context, id string) (*models.TimetableGeneration, error) {
	generation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scheduler.CanTransition(generation.Status, models.GenerationStatusPublished) {
		return nil, lifecycleError(scheduler.Transition(generation.Status, models.GenerationStatusPublished, scheduler.TransitionGuard{}))
	}

	report, err := s.Report(ctx, id)
	if err != nil {
		return nil, err
	}
	published, err := s.generations.FindPublishedByTerm(ctx, generation.TermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check published generation")
	}

	guard := scheduler.TransitionGuard{
		Report:          report,
		PublishedExists: published != nil && published.ID != generation.ID,
	}
	if err := scheduler.Transition(generation.Status, models.GenerationStatusPublished, guard); err != nil {
		return nil, lifecycleError(err)
	}
	if err := s.generations.UpdateStatus(ctx, nil, id, generation.Status, models.GenerationStatusPublished); err != nil {
		if errors.Is(err, repository.ErrPublishedExists) {
			return nil, appErrors.Clone(appErrors.ErrPublishRejected, "term already has a published generation")
		}
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, errStatusChanged
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish generation")
	}
	generation.Status = models.GenerationStatusPublished
	s.logger.Info("generation published", zap.String("generation_id", id), zap.String("term_id", generation.TermID))
	return generation, nil
}

// Archive retires a published generation nothing else builds on.
func (s *GenerationService) Archive(ctx context.Context, id string) (*models.TimetableGeneration, error) {
	generation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scheduler.CanTransition(generation.Status, models.GenerationStatusArchived) {
		return nil, lifecycleError(scheduler.Transition(generation.Status, models.GenerationStatusArchived, scheduler.TransitionGuard{}))
	}

	refs, err := s.generations.CountActiveReferences(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count references")
	}
	if err := scheduler.Transition(generation.Status, models.GenerationStatusArchived, scheduler.TransitionGuard{ActiveReferences: refs}); err != nil {
		return nil, lifecycleError(err)
	}
	if err := s.generations.UpdateStatus(ctx, nil, id, generation.Status, models.GenerationStatusArchived); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, errStatusChanged
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive generation")
	}
	generation.Status = models.GenerationStatusArchived
	return generation, nil
}

// Delete removes a draft, completed or failed generation and its lessons.
func (s *GenerationService) Delete(ctx context.Context, id string) error {
	generation, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := scheduler.CanDelete(generation.Status); err != nil {
		return lifecycleError(err)
	}

	var removed int64
	err = database.WithTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		var err error
		if removed, err = s.lessons.DeleteByGeneration(ctx, tx, id); err != nil {
			return err
		}
		return s.generations.Delete(ctx, tx, id)
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete generation")
	}

	if generation.Status == models.GenerationStatusDraft {
		s.mu.Lock()
		s.pending[id] = struct{}{}
		s.mu.Unlock()
	}
	s.cache.Invalidate(ctx, cache.Key("report", id))
	s.logger.Info("generation deleted", zap.String("generation_id", id), zap.Int64("lessons", removed))
	return nil
}

// Get returns a generation with its stored report and failures decoded.
func (s *GenerationService) Get(ctx context.Context, id string) (*dto.GenerationDetail, error) {
	generation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &dto.GenerationDetail{TimetableGeneration: *generation}
	if len(generation.Report) > 0 {
		var report scheduler.ScheduleReport
		if err := json.Unmarshal(generation.Report, &report); err != nil {
			s.logger.Warn("stored report undecodable", zap.String("generation_id", id), zap.Error(err))
		} else {
			detail.Report = &report
		}
	}
	if len(generation.Failures) > 0 {
		if err := json.Unmarshal(generation.Failures, &detail.Failures); err != nil {
			s.logger.Warn("stored failures undecodable", zap.String("generation_id", id), zap.Error(err))
		}
	}
	return detail, nil
}

// List returns a term's generations, newest first.
func (s *GenerationService) List(ctx context.Context, query dto.GenerationListQuery) ([]models.TimetableGeneration, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "termId is required")
	}
	if _, err := s.loader.term(ctx, query.TermID); err != nil {
		return nil, err
	}
	generations, err := s.generations.ListByTerm(ctx, query.TermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list generations")
	}
	return generations, nil
}

// Report audits the generation's stored lessons, serving repeated calls from cache.
func (s *GenerationService) Report(ctx context.Context, id string) (*scheduler.ScheduleReport, error) {
	generation, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	key := cache.Key("report", id)
	var cached scheduler.ScheduleReport
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	switch generation.Status {
	case models.GenerationStatusDraft, models.GenerationStatusGenerating:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("report unavailable while generation is %s", generation.Status))
	}

	term, err := s.loader.term(ctx, generation.TermID)
	if err != nil {
		return nil, err
	}
	snap, err := s.loader.load(ctx, *term, models.TeachingAssignmentFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit data")
	}
	lessons, err := s.lessons.List(ctx, models.ScheduledLessonFilter{GenerationID: id})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons")
	}

	report := scheduler.AuditSchedule(lessons, snap.auditInput())
	s.cache.Set(ctx, key, report, s.cfg.ReportCacheTTL)
	return &report, nil
}

// Lessons lists a generation's dated lessons.
func (s *GenerationService) Lessons(ctx context.Context, id string, query dto.LessonQuery) ([]models.ScheduledLesson, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson query")
	}
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	filter, err := lessonFilter(id, query)
	if err != nil {
		return nil, err
	}
	lessons, err := s.lessons.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons")
	}
	return lessons, nil
}

func lessonFilter(id string, query dto.LessonQuery) (models.ScheduledLessonFilter, error) {
	filter := models.ScheduledLessonFilter{GenerationID: id, TeacherID: query.TeacherID, ClassID: query.ClassID}
	if query.From != "" {
		from, err := time.Parse(models.DateLayout, query.From)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "from must use YYYY-MM-DD")
		}
		filter.From = &from
	}
	if query.To != "" {
		to, err := time.Parse(models.DateLayout, query.To)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "to must use YYYY-MM-DD")
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	return filter, nil
}

func (s *GenerationService) find(ctx context.Context, id string) (*models.TimetableGeneration, error) {
	generation, err := s.generations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation")
	}
	if err := inSchoolScope(ctx, generation.SchoolID); err != nil {
		return nil, err
	}
	return generation, nil
}

// inSchoolScope refuses data of another school when ctx is confined to one.
func inSchoolScope(ctx context.Context, schoolID string) error {
	if scope := models.SchoolScope(ctx); scope != "" && scope != schoolID {
		return appErrors.Clone(appErrors.ErrForbidden, "school is outside your scope")
	}
	return nil
}

// errStatusChanged answers requests that lost a race with another status change.
var errStatusChanged = appErrors.Clone(appErrors.ErrConflict, "generation changed meanwhile, reload and retry")

// lifecycleError maps state machine errors onto API errors.
func lifecycleError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrPublishRejected):
		return appErrors.Wrap(err, appErrors.ErrPublishRejected.Code, appErrors.ErrPublishRejected.Status, err.Error())
	case errors.Is(err, scheduler.ErrArchiveBlocked):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, err.Error())
	case errors.Is(err, scheduler.ErrInvalidTransition):
		return appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, err.Error())
	case errors.Is(err, scheduler.ErrInvalidConstraints):
		return appErrors.Wrap(err, appErrors.ErrInvalidConstraints.Code, appErrors.ErrInvalidConstraints.Status, err.Error())
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
}
