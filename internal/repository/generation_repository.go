package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// ErrPublishedExists is returned when storage refuses a second published generation for a term.
var ErrPublishedExists = errors.New("term already has a published generation")

// ErrStatusChanged is returned when a status update finds the generation gone or no longer in
// the status the caller loaded.
var ErrStatusChanged = errors.New("generation status changed concurrently")

const generationColumns = `id, term_id, school_id, status, algorithm, base_generation_id, optimizer_job_id, generated_at, notes, report, failures, created_at, updated_at`

// GenerationRepository persists timetable generations.
type GenerationRepository struct {
	db *sqlx.DB
}

// NewGenerationRepository constructs the repository.
func NewGenerationRepository(db *sqlx.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a generation in draft status unless another status is set.
func (r *GenerationRepository) Create(ctx context.Context, exec sqlx.ExtContext, generation *models.TimetableGeneration) error {
	if generation == nil {
		return fmt.Errorf("generation payload is nil")
	}
	if generation.TermID == "" {
		return fmt.Errorf("term_id is required")
	}
	if generation.ID == "" {
		generation.ID = uuid.NewString()
	}
	if generation.Status == "" {
		generation.Status = models.GenerationStatusDraft
	}
	if generation.Algorithm == "" {
		generation.Algorithm = models.AlgorithmGreedy
	}
	now := time.Now().UTC()
	if generation.CreatedAt.IsZero() {
		generation.CreatedAt = now
	}
	generation.UpdatedAt = now

	const query = `
INSERT INTO timetable_generations (id, term_id, school_id, status, algorithm, base_generation_id, optimizer_job_id, generated_at, notes, report, failures, created_at, updated_at)
VALUES (:id, :term_id, :school_id, :status, :algorithm, :base_generation_id, :optimizer_job_id, :generated_at, :notes, :report, :failures, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, generation); err != nil {
		return fmt.Errorf("insert timetable generation: %w", err)
	}
	return nil
}

// FindByID loads a generation by identifier.
func (r *GenerationRepository) FindByID(ctx context.Context, id string) (*models.TimetableGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM timetable_generations WHERE id = $1`
	var generation models.TimetableGeneration
	if err := r.db.GetContext(ctx, &generation, query, id); err != nil {
		return nil, err
	}
	return &generation, nil
}

// ListByTerm returns the generations of a term, newest first.
func (r *GenerationRepository) ListByTerm(ctx context.Context, termID string) ([]models.TimetableGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM timetable_generations WHERE term_id = $1 ORDER BY created_at DESC, id`
	var generations []models.TimetableGeneration
	if err := r.db.SelectContext(ctx, &generations, query, termID); err != nil {
		return nil, fmt.Errorf("list timetable generations: %w", err)
	}
	return generations, nil
}

// FindPublishedByTerm returns the published generation of a term, or nil when there is none.
func (r *GenerationRepository) FindPublishedByTerm(ctx context.Context, termID string) (*models.TimetableGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM timetable_generations WHERE term_id = $1 AND status = $2 LIMIT 1`
	var generation models.TimetableGeneration
	if err := r.db.GetContext(ctx, &generation, query, termID, models.GenerationStatusPublished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find published generation: %w", err)
	}
	return &generation, nil
}

// ListAwaitingOptimizer returns generating runs that still wait on an optimizer job.
func (r *GenerationRepository) ListAwaitingOptimizer(ctx context.Context) ([]models.TimetableGeneration, error) {
	query := `SELECT ` + generationColumns + ` FROM timetable_generations
WHERE algorithm = $1 AND status = $2 AND optimizer_job_id IS NOT NULL ORDER BY created_at`
	var generations []models.TimetableGeneration
	if err := r.db.SelectContext(ctx, &generations, query, models.AlgorithmOptimizer, models.GenerationStatusGenerating); err != nil {
		return nil, fmt.Errorf("list optimizer generations: %w", err)
	}
	return generations, nil
}

// CountActiveReferences counts live generations built on top of this one.
func (r *GenerationRepository) CountActiveReferences(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM timetable_generations WHERE base_generation_id = $1 AND status <> ALL($2)`
	inactive := pq.Array([]string{
		string(models.GenerationStatusFailed),
		string(models.GenerationStatusArchived),
	})
	var count int
	if err := r.db.GetContext(ctx, &count, query, id, inactive); err != nil {
		return 0, fmt.Errorf("count generation references: %w", err)
	}
	return count, nil
}

// UpdateStatus moves a generation from one status to another. Storage rejecting a second
// published generation for the term is reported as ErrPublishedExists.
func (r *GenerationRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.GenerationStatus) error {
	const query = `UPDATE timetable_generations SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrPublishedExists
		}
		return fmt.Errorf("update generation status: %w", err)
	}
	return requireTransition(result, "generation status")
}

// Finish records the outcome of a run still in update.From.
func (r *GenerationRepository) Finish(ctx context.Context, exec sqlx.ExtContext, id string, update models.GenerationUpdate) error {
	const query = `UPDATE timetable_generations
SET status = $1, generated_at = $2, notes = $3, report = $4, failures = $5, updated_at = $6
WHERE id = $7 AND status = $8`
	result, err := r.exec(exec).ExecContext(ctx, query,
		update.Status, update.GeneratedAt, update.Notes, nullableJSON(update.Report), nullableJSON(update.Failures), time.Now().UTC(), id, update.From)
	if err != nil {
		return fmt.Errorf("finish generation: %w", err)
	}
	return requireTransition(result, "finish generation")
}

// SetOptimizerJob stores the optimizer job id of a generation.
func (r *GenerationRepository) SetOptimizerJob(ctx context.Context, id, jobID string) error {
	const query = `UPDATE timetable_generations SET optimizer_job_id = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, jobID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set optimizer job: %w", err)
	}
	return requireAffected(result, "set optimizer job")
}

// Delete removes a generation. Its lessons go with it through the cascading foreign key.
func (r *GenerationRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `DELETE FROM timetable_generations WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete generation: %w", err)
	}
	return requireAffected(result, "delete generation")
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func requireTransition(result sql.Result, op string) error {
	if err := requireAffected(result, op); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStatusChanged
		}
		return err
	}
	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
