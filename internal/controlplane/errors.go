package controlplane

import (
	"errors"
	"net/http"

	"github.com/zphelps/jarvis/internal/lifecycle"
	"github.com/zphelps/jarvis/internal/orchestrator"
	"github.com/zphelps/jarvis/internal/store"
)

// statusForError maps domain errors to HTTP status codes. Illegal transitions
// and transition races are conflicts, not server faults.
func statusForError(err error) int {
	var tErr *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.As(err, &tErr),
		errors.Is(err, store.ErrTransitionConflict),
		errors.Is(err, orchestrator.ErrNotAwaitingInput):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
