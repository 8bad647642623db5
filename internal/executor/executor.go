// Package executor defines the interface task executors implement and a
// registry the orchestrator resolves them from.
package executor

import (
	"context"
	"fmt"

	"github.com/zphelps/jarvis/internal/models"
)

// Executor runs one task to an outcome. Execute owns the queued-to-running
// transition so a redelivered job for an already-settled task fails fast at
// the state machine instead of running twice.
type Executor interface {
	// Name returns the executor type this implementation serves.
	Name() models.ExecutorType
	// Execute runs the task and reports exactly one outcome: success,
	// failure, or needs-input. An error return means the run could not
	// start at all.
	Execute(ctx context.Context, task *models.Task) (*models.ExecutionResult, error)
}

// Registry resolves executors by type.
type Registry struct {
	executors map[models.ExecutorType]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[models.ExecutorType]Executor)}
}

// Register adds an executor. Later registrations for the same type win.
func (r *Registry) Register(e Executor) {
	r.executors[e.Name()] = e
}

// Get returns the executor for a type.
func (r *Registry) Get(typ models.ExecutorType) (Executor, error) {
	e, ok := r.executors[typ]
	if !ok {
		return nil, fmt.Errorf("no executor registered for type %q", typ)
	}
	return e, nil
}
