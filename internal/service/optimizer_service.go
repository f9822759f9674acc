package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/optimizer"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/pkg/database"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type optimizerClient interface {
	Enabled() bool
	Submit(ctx context.Context, problem optimizer.Problem) (string, error)
	PollStatus(ctx context.Context, jobID string) (*optimizer.StatusResponse, error)
	Cancel(ctx context.Context, jobID string) error
}

type optimizerJobStore interface {
	ListAwaitingOptimizer(ctx context.Context) ([]models.TimetableGeneration, error)
	SetOptimizerJob(ctx context.Context, id, jobID string) error
}

// OptimizerConfig tunes optimizer submission and polling.
type OptimizerConfig struct {
	PollSpec    string
	PollTimeout time.Duration
	TimeLimit   int
	Now         func() time.Time
}

// OptimizerService submits terms to the external optimizer and imports finished jobs.
type OptimizerService struct {
	generations generationStore
	jobs        optimizerJobStore
	lessons     lessonStore
	loader      *snapshotLoader
	client      optimizerClient
	tx          database.Beginner
	cache       *CacheService
	metrics     runMetrics
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         OptimizerConfig

	cron *cron.Cron
}

// NewOptimizerService wires optimizer dependencies.
func NewOptimizerService(
	repos GenerationRepositories,
	jobStore optimizerJobStore,
	client optimizerClient,
	tx database.Beginner,
	cacheSvc *CacheService,
	metrics runMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg OptimizerConfig,
) *OptimizerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopRunMetrics{}
	}
	if cfg.PollSpec == "" {
		cfg.PollSpec = "@every 30s"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 25 * time.Second
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = 600
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OptimizerService{
		generations: repos.Generations,
		jobs:        jobStore,
		lessons:     repos.Lessons,
		loader: &snapshotLoader{
			terms:              repos.Terms,
			slots:              repos.Slots,
			assignments:        repos.Assignments,
			teacherConstraints: repos.TeacherConstraints,
			schools:            repos.Schools,
			metrics:            metrics,
		},
		client:    client,
		tx:        tx,
		cache:     cacheSvc,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Submit creates an optimizer generation for a term and hands the problem to the optimizer.
func (s *OptimizerService) Submit(ctx context.Context, req dto.CreateOptimizerGenerationRequest) (*models.TimetableGeneration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid optimizer payload")
	}
	if s.client == nil || !s.client.Enabled() {
		return nil, appErrors.ErrOptimizerDown
	}

	term, err := s.loader.term(ctx, req.TermID)
	if err != nil {
		return nil, err
	}
	snap, err := s.loader.load(ctx, *term, models.TeachingAssignmentFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term data")
	}
	if err := scheduler.ValidateSchoolConstraints(snap.School); err != nil {
		return nil, lifecycleError(err)
	}
	if len(snap.Assignments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term has no teaching assignments")
	}

	generation := &models.TimetableGeneration{
		TermID:    term.ID,
		SchoolID:  term.SchoolID,
		Status:    models.GenerationStatusDraft,
		Algorithm: models.AlgorithmOptimizer,
		Notes:     req.Notes,
	}
	if err := s.generations.Create(ctx, nil, generation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create generation")
	}
	if err := s.generations.UpdateStatus(ctx, nil, generation.ID, generation.Status, models.GenerationStatusGenerating); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start generation")
	}
	generation.Status = models.GenerationStatusGenerating

	jobID, err := s.client.Submit(ctx, s.problem(generation, snap, req))
	if err != nil {
		s.fail(context.WithoutCancel(ctx), generation, "optimizer submission failed: "+err.Error())
		switch {
		case errors.Is(err, optimizer.ErrInvalidProblem):
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		case errors.Is(err, optimizer.ErrUnavailable):
			return nil, appErrors.Wrap(err, appErrors.ErrOptimizerDown.Code, appErrors.ErrOptimizerDown.Status, appErrors.ErrOptimizerDown.Message)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "optimizer rejected the problem")
		}
	}
	if err := s.jobs.SetOptimizerJob(ctx, generation.ID, jobID); err != nil {
		s.logger.Error("failed to store optimizer job", zap.String("generation_id", generation.ID), zap.String("job_id", jobID), zap.Error(err))
		if cancelErr := s.client.Cancel(ctx, jobID); cancelErr != nil {
			s.logger.Warn("failed to cancel orphaned optimizer job", zap.String("job_id", jobID), zap.Error(cancelErr))
		}
		s.fail(context.WithoutCancel(ctx), generation, "failed to record optimizer job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record optimizer job")
	}
	generation.OptimizerJobID = &jobID
	return generation, nil
}

func (s *OptimizerService) problem(generation *models.TimetableGeneration, snap *runSnapshot, req dto.CreateOptimizerGenerationRequest) optimizer.Problem {
	problem := optimizer.Problem{
		SchoolConfig: optimizer.SchoolConfig{
			ID:          snap.Term.SchoolID,
			Constraints: snap.School,
		},
		TermID:            snap.Term.ID,
		GenerationID:      generation.ID,
		SelectedClasses:   snap.offeringIDs(),
		SelectedTeachers:  snap.teacherIDs(),
		Algorithm:         "ai",
		OptimizationLevel: req.OptimizationLevel,
		TimeLimit:         req.TimeLimit,
		OptimizationGoals: req.Goals,
		TermStart:         snap.Term.StartDate.Format(models.DateLayout),
		TermEnd:           snap.Term.EndDate.Format(models.DateLayout),
	}
	if problem.OptimizationLevel == "" {
		problem.OptimizationLevel = "basic"
	}
	if problem.TimeLimit == 0 {
		problem.TimeLimit = s.cfg.TimeLimit
	}
	if len(problem.OptimizationGoals) == 0 {
		problem.OptimizationGoals = optimizer.DefaultGoals
	}
	for _, h := range snap.Holidays {
		problem.Holidays = append(problem.Holidays, h.Date.Format(models.DateLayout))
	}
	for _, c := range snap.TeacherConstraints {
		problem.Constraints = append(problem.Constraints, optimizer.ProblemConstraint{
			Type:  "teacher_unavailability",
			Value: map[string]string{"teacher_id": c.TeacherID, "timeslot_id": c.TimeSlotID},
		})
	}
	if snap.School.BreakRequired {
		problem.Constraints = append(problem.Constraints, optimizer.ProblemConstraint{Type: "break_requirements", Value: true})
	}
	problem.Constraints = append(problem.Constraints, optimizer.ProblemConstraint{
		Type:  "consecutive_lessons",
		Value: snap.School.MaxConsecutiveLessons,
	})
	for _, c := range req.Constraints {
		problem.Constraints = append(problem.Constraints, optimizer.ProblemConstraint{Type: c.Type, Value: c.Value})
	}
	return problem
}

// Start schedules Poll on the configured cron spec.
func (s *OptimizerService) Start() error {
	if s.client == nil || !s.client.Enabled() {
		s.logger.Info("optimizer poller disabled")
		return nil
	}
	printf := cron.PrintfLogger(zap.NewStdLog(s.logger))
	s.cron = cron.New(cron.WithChain(cron.Recover(printf), cron.SkipIfStillRunning(printf)))
	if _, err := s.cron.AddFunc(s.cfg.PollSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollTimeout)
		defer cancel()
		if err := s.Poll(ctx); err != nil {
			s.logger.Warn("optimizer poll failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule optimizer poll %q: %w", s.cfg.PollSpec, err)
	}
	s.cron.Start()
	s.logger.Info("optimizer poller started", zap.String("spec", s.cfg.PollSpec))
	return nil
}

// Stop halts the poller and waits for a running poll to return.
func (s *OptimizerService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Poll checks every outstanding optimizer job once. The cron chain skips a tick while the
// previous poll is still running.
func (s *OptimizerService) Poll(ctx context.Context) error {
	pending, err := s.jobs.ListAwaitingOptimizer(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for i := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.pollOne(ctx, &pending[i]); err != nil {
			s.logger.Warn("optimizer job poll failed", zap.String("generation_id", pending[i].ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *OptimizerService) pollOne(ctx context.Context, generation *models.TimetableGeneration) error {
	if generation.OptimizerJobID == nil {
		return nil
	}
	status, err := s.client.PollStatus(ctx, *generation.OptimizerJobID)
	switch {
	case errors.Is(err, optimizer.ErrJobNotFound):
		s.fail(ctx, generation, "optimizer no longer knows the job")
		return nil
	case err != nil:
		return err
	}

	switch status.Status {
	case optimizer.JobCompleted:
		return s.importResult(ctx, generation, status.Result)
	case optimizer.JobFailed:
		reason := status.Error
		if reason == "" {
			reason = status.Message
		}
		s.fail(ctx, generation, "optimizer failed: "+reason)
	default:
		s.logger.Debug("optimizer job in progress",
			zap.String("generation_id", generation.ID),
			zap.String("status", string(status.Status)),
			zap.Float64("progress", status.Progress),
		)
	}
	return nil
}

// importResult turns the optimizer's lessons into stored lessons and audits them. Lessons the
// optimizer could not justify are recorded as failures instead of stored.
func (s *OptimizerService) importResult(ctx context.Context, generation *models.TimetableGeneration, result *optimizer.Result) error {
	if result == nil {
		s.fail(ctx, generation, "optimizer completed without a result")
		return nil
	}
	term, err := s.loader.term(ctx, generation.TermID)
	if err != nil {
		return err
	}
	snap, err := s.loader.load(ctx, *term, models.TeachingAssignmentFilter{})
	if err != nil {
		return err
	}

	lessons, failures := convertOptimizerLessons(generation.ID, snap, result.Lessons)
	report := scheduler.AuditSchedule(lessons, snap.auditInput())
	if result.Statistics != nil && result.Statistics.TeacherConflicts+result.Statistics.ClassConflicts != report.TeacherConflicts+report.ClassConflicts {
		s.logger.Info("optimizer statistics differ from audit",
			zap.String("generation_id", generation.ID),
			zap.Int("optimizer_conflicts", result.Statistics.TeacherConflicts+result.Statistics.ClassConflicts),
			zap.Int("audited_conflicts", report.TeacherConflicts+report.ClassConflicts),
		)
	}

	// Lessons and the completed status commit together, so a cancel that wins the race
	// leaves no imported lessons behind.
	outcome := runOutcome{Status: models.GenerationStatusCompleted, Report: &report, Failures: failures, At: s.cfg.Now()}
	err = database.WithTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		if len(lessons) > 0 {
			if err := s.lessons.InsertBatch(ctx, tx, lessons); err != nil {
				return err
			}
		}
		return finishGeneration(ctx, s.generations, tx, s.cache, generation, outcome)
	})
	switch {
	case errors.Is(err, repository.ErrStatusChanged):
		s.logger.Info("optimizer result discarded, generation changed meanwhile", zap.String("generation_id", generation.ID))
		return nil
	case errors.Is(err, scheduler.ErrStorageDoubleBooking):
		s.fail(ctx, generation, "optimizer result collides with stored lessons")
		return nil
	case err != nil:
		return err
	}
	s.metrics.ObserveGenerationRun(models.AlgorithmOptimizer, models.GenerationStatusCompleted, len(lessons), len(failures), outcome.At.Sub(generation.CreatedAt))
	s.logger.Info("optimizer result imported",
		zap.String("generation_id", generation.ID),
		zap.Int("lessons", len(lessons)),
		zap.Int("rejected", len(failures)),
		zap.Int("conflicts", report.ConflictCount()),
	)
	return nil
}

func convertOptimizerLessons(generationID string, snap *runSnapshot, proposed []optimizer.ResultLesson) ([]models.ScheduledLesson, []scheduler.SchedulingFailure) {
	assignments := make(map[string]models.TeachingAssignment, len(snap.Assignments))
	for _, a := range snap.Assignments {
		assignments[a.ID] = a
	}
	slots := make(map[string]models.TimeSlot, len(snap.Slots))
	for _, slot := range snap.Slots {
		slots[slot.ID] = slot
	}
	closed := make(map[string]struct{}, len(snap.Holidays))
	for _, h := range snap.Holidays {
		closed[h.Date.Format(models.DateLayout)] = struct{}{}
	}
	start, end := scheduler.DateOnly(snap.Term.StartDate), scheduler.DateOnly(snap.Term.EndDate)

	var (
		lessons  []models.ScheduledLesson
		failures []scheduler.SchedulingFailure
		ids      = make(map[string]struct{})
		teachers = make(map[string]struct{})
		classes  = make(map[string]struct{})
	)
	reject := func(p optimizer.ResultLesson, a models.TeachingAssignment, kind scheduler.ViolationKind, reason string) {
		failure := scheduler.SchedulingFailure{
			AssignmentID:    p.TeachingAssignmentID,
			TeacherID:       a.TeacherID,
			ClassOfferingID: a.ClassOfferingID,
			Reason:          fmt.Sprintf("%s on %s: %s", p.TimeSlotID, p.Date, reason),
		}
		if kind != "" {
			failure.Rejections = map[scheduler.ViolationKind]int{kind: 1}
		}
		failures = append(failures, failure)
	}

	for _, p := range proposed {
		a, ok := assignments[p.TeachingAssignmentID]
		if !ok {
			reject(p, a, "", "unknown teaching assignment")
			continue
		}
		slot, ok := slots[p.TimeSlotID]
		if !ok || !slot.IsTeachingPeriod {
			reject(p, a, "", "unknown or non-teaching time slot")
			continue
		}
		date, err := time.Parse(models.DateLayout, p.Date)
		if err != nil {
			reject(p, a, "", "invalid date")
			continue
		}
		if date.Before(start) || date.After(end) || int(date.Weekday()) != slot.DayOfWeek {
			reject(p, a, "", "date outside the term or not on the slot's weekday")
			continue
		}
		if _, holiday := closed[p.Date]; holiday {
			reject(p, a, "", "date is a holiday")
			continue
		}

		id := scheduler.LessonID(generationID, a.ID, slot.ID, date)
		if _, dup := ids[id]; dup {
			continue
		}
		teacherKey := a.TeacherID + "|" + slot.ID + "|" + p.Date
		if _, busy := teachers[teacherKey]; busy {
			reject(p, a, scheduler.KindTeacherDoubleBooking, "teacher already booked")
			continue
		}
		classKey := a.ClassOfferingID + "|" + slot.ID + "|" + p.Date
		if _, busy := classes[classKey]; busy {
			reject(p, a, scheduler.KindClassDoubleBooking, "class already booked")
			continue
		}
		ids[id] = struct{}{}
		teachers[teacherKey] = struct{}{}
		classes[classKey] = struct{}{}

		lessons = append(lessons, models.ScheduledLesson{
			ID:                   id,
			TeachingAssignmentID: a.ID,
			TimeSlotID:           slot.ID,
			Date:                 date,
			GenerationID:         generationID,
			TeacherID:            a.TeacherID,
			ClassOfferingID:      a.ClassOfferingID,
		})
	}
	return lessons, failures
}

// CancelGeneration stops the optimizer job behind a generating generation and fails it.
func (s *OptimizerService) CancelGeneration(ctx context.Context, generation *models.TimetableGeneration) error {
	if generation.OptimizerJobID != nil && s.client != nil {
		if err := s.client.Cancel(ctx, *generation.OptimizerJobID); err != nil && !errors.Is(err, optimizer.ErrJobNotFound) {
			if errors.Is(err, optimizer.ErrUnavailable) {
				return appErrors.Wrap(err, appErrors.ErrOptimizerDown.Code, appErrors.ErrOptimizerDown.Status, appErrors.ErrOptimizerDown.Message)
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel optimizer job")
		}
	}
	if err := s.finish(ctx, generation, "run cancelled"); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return errStatusChanged
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record cancellation")
	}
	return nil
}

func (s *OptimizerService) fail(ctx context.Context, generation *models.TimetableGeneration, note string) {
	if err := s.finish(ctx, generation, note); err != nil {
		s.logger.Error("failed to mark optimizer generation failed", zap.String("generation_id", generation.ID), zap.Error(err))
	}
}

func (s *OptimizerService) finish(ctx context.Context, generation *models.TimetableGeneration, note string) error {
	outcome := runOutcome{Status: models.GenerationStatusFailed, Note: note, At: s.cfg.Now()}
	if err := finishGeneration(ctx, s.generations, nil, s.cache, generation, outcome); err != nil {
		return err
	}
	s.metrics.ObserveGenerationRun(models.AlgorithmOptimizer, models.GenerationStatusFailed, 0, 0, outcome.At.Sub(generation.CreatedAt))
	s.logger.Info("optimizer generation failed", zap.String("generation_id", generation.ID), zap.String("note", note))
	return nil
}
