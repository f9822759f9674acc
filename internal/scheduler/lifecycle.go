package scheduler

import (
	"fmt"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

var allowedTransitions = map[models.GenerationStatus][]models.GenerationStatus{
	models.GenerationStatusDraft:      {models.GenerationStatusGenerating},
	models.GenerationStatusGenerating: {models.GenerationStatusCompleted, models.GenerationStatusFailed},
	models.GenerationStatusCompleted:  {models.GenerationStatusPublished},
	models.GenerationStatusPublished:  {models.GenerationStatusArchived},
}

// TransitionGuard carries the facts publish and archive moves depend on.
type TransitionGuard struct {
	// Report is the latest audit of the generation's lessons. Required for publishing.
	Report *ScheduleReport
	// PublishedExists is true when another generation of the same term is already published.
	PublishedExists bool
	// ActiveReferences counts entities still using the generation's lessons.
	ActiveReferences int
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to models.GenerationStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a status change and its guards.
func Transition(from, to models.GenerationStatus, guard TransitionGuard) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch to {
	case models.GenerationStatusPublished:
		if guard.PublishedExists {
			return fmt.Errorf("%w: term already has a published generation", ErrPublishRejected)
		}
		if guard.Report == nil {
			return fmt.Errorf("%w: generation has not been audited", ErrPublishRejected)
		}
		if !guard.Report.Publishable() {
			return fmt.Errorf("%w: %d conflicts and %d unassigned offerings outstanding",
				ErrPublishRejected, guard.Report.ConflictCount(), guard.Report.UnassignedOfferings)
		}
	case models.GenerationStatusArchived:
		if guard.ActiveReferences > 0 {
			return fmt.Errorf("%w: %d active references", ErrArchiveBlocked, guard.ActiveReferences)
		}
	}
	return nil
}

// CanDelete reports whether a generation in status may be removed with its lessons.
func CanDelete(status models.GenerationStatus) error {
	switch status {
	case models.GenerationStatusDraft, models.GenerationStatusCompleted, models.GenerationStatusFailed:
		return nil
	default:
		return fmt.Errorf("%w: cannot delete %s generation", ErrInvalidTransition, status)
	}
}

// IsTerminal reports whether no further transition leaves status.
func IsTerminal(status models.GenerationStatus) bool {
	return len(allowedTransitions[status]) == 0
}
