package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// GenerationStatus represents lifecycle phases of a scheduling run.
type GenerationStatus string

const (
	GenerationStatusDraft      GenerationStatus = "draft"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusPublished  GenerationStatus = "published"
	GenerationStatusArchived   GenerationStatus = "archived"
)

// GenerationAlgorithm identifies which path produced the lessons.
type GenerationAlgorithm string

const (
	AlgorithmGreedy    GenerationAlgorithm = "greedy"
	AlgorithmOptimizer GenerationAlgorithm = "optimizer"
)

// TimetableGeneration is one run of the allocator or optimizer for a term.
type TimetableGeneration struct {
	ID               string              `db:"id" json:"id"`
	TermID           string              `db:"term_id" json:"term_id"`
	SchoolID         string              `db:"school_id" json:"school_id"`
	Status           GenerationStatus    `db:"status" json:"status"`
	Algorithm        GenerationAlgorithm `db:"algorithm" json:"algorithm"`
	BaseGenerationID *string             `db:"base_generation_id" json:"base_generation_id,omitempty"`
	OptimizerJobID   *string             `db:"optimizer_job_id" json:"optimizer_job_id,omitempty"`
	GeneratedAt      *time.Time          `db:"generated_at" json:"generated_at,omitempty"`
	Notes            *string             `db:"notes" json:"notes,omitempty"`
	Report           types.JSONText      `db:"report" json:"report,omitempty"`
	Failures         types.JSONText      `db:"failures" json:"failures,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// GenerationUpdate carries the mutable fields written at the end of a run.
type GenerationUpdate struct {
	From           GenerationStatus
	Status         GenerationStatus
	GeneratedAt    *time.Time
	Notes          *string
	Report         types.JSONText
	Failures       types.JSONText
	OptimizerJobID *string
}
