// Package lifecycle enforces the task status state machine.
package lifecycle

import (
	"fmt"

	"github.com/zphelps/jarvis/internal/models"
)

// validTransitions is the complete set of legal status edges. A status not
// present as a key, or an empty value, is terminal.
var validTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending:    {models.TaskStatusQueued, models.TaskStatusCancelled},
	models.TaskStatusQueued:     {models.TaskStatusRunning, models.TaskStatusCancelled},
	models.TaskStatusRunning:    {models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusNeedsInput, models.TaskStatusCancelled},
	models.TaskStatusNeedsInput: {models.TaskStatusRunning, models.TaskStatusCancelled},
	models.TaskStatusCompleted:  {},
	models.TaskStatusFailed:     {models.TaskStatusQueued}, // retry path
	models.TaskStatusCancelled:  {},
}

// InvalidTransitionError reports an attempted illegal status change.
type InvalidTransitionError struct {
	From models.TaskStatus
	To   models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s (allowed: %v)", e.From, e.To, AllowedFrom(e.From))
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.TaskStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate returns an InvalidTransitionError if from -> to is not legal.
func Validate(from, to models.TaskStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Terminal reports whether a status admits no further transitions on its own;
// failed is not terminal because of the manual retry edge.
func Terminal(status models.TaskStatus) bool {
	return len(validTransitions[status]) == 0
}

// Ends reports whether a status ends the task's run and should stamp
// completed_at: completed, failed, or cancelled.
func Ends(status models.TaskStatus) bool {
	switch status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		return true
	}
	return false
}

// AllowedFrom returns the legal target statuses from the given status.
func AllowedFrom(status models.TaskStatus) []models.TaskStatus {
	out := make([]models.TaskStatus, len(validTransitions[status]))
	copy(out, validTransitions[status])
	return out
}

// Statuses returns every known status.
func Statuses() []models.TaskStatus {
	return []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusQueued,
		models.TaskStatusRunning,
		models.TaskStatusNeedsInput,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	}
}
