// Package orchestrator coordinates the life of a dispatch: planning it into
// subtasks, running them in dependency order, and surfacing outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zphelps/jarvis/internal/attention"
	"github.com/zphelps/jarvis/internal/decompose"
	"github.com/zphelps/jarvis/internal/events"
	"github.com/zphelps/jarvis/internal/executor"
	"github.com/zphelps/jarvis/internal/graph"
	"github.com/zphelps/jarvis/internal/jobs"
	"github.com/zphelps/jarvis/internal/lifecycle"
	"github.com/zphelps/jarvis/internal/llm"
	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/store"
)

// ErrNotAwaitingInput indicates a respond call hit a task that is not in
// needs_input.
var ErrNotAwaitingInput = errors.New("task is not awaiting input")

// Planner turns a dispatch into a subtask plan.
type Planner interface {
	Decompose(ctx context.Context, req models.DispatchRequest) (*models.DecompositionResult, llm.Usage, error)
}

// Orchestrator wires the store, job queue, planner and executors together.
type Orchestrator struct {
	store     *store.Store
	queue     *jobs.Queue
	publisher *events.Publisher
	notifier  *attention.Notifier
	planner   Planner
	registry  *executor.Registry
}

func New(s *store.Store, q *jobs.Queue, p *events.Publisher, n *attention.Notifier, planner Planner, registry *executor.Registry) *Orchestrator {
	return &Orchestrator{
		store:     s,
		queue:     q,
		publisher: p,
		notifier:  n,
		planner:   planner,
		registry:  registry,
	}
}

// Dispatch accepts a new request, records the root task and schedules
// planning. The root carries no executor type; it exists to coordinate its
// subtasks.
func (o *Orchestrator) Dispatch(ctx context.Context, userID string, req models.DispatchRequest) (*models.Task, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("dispatch needs a description")
	}

	task, err := o.store.CreateTask(store.CreateTaskParams{
		UserID:              userID,
		Priority:            req.Priority,
		Description:         req.Description,
		ContextSummary:      req.Context,
		OriginatingDispatch: req.Description,
		BudgetUSD:           req.BudgetUSD,
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.publish(models.SourceUser, "", task, models.CreatedPayload{
		Description: task.Description,
		Priority:    task.Priority,
	}); err != nil {
		return nil, err
	}

	if err := o.queue.EnqueueDecompose(task.ID, userID); err != nil {
		return nil, err
	}
	return task, nil
}

// HandleDecompose plans a dispatch root into subtasks. Planning never fails
// a dispatch: any planner error collapses to a single-subtask fallback plan.
func (o *Orchestrator) HandleDecompose(ctx context.Context, job *models.Job) error {
	task, err := o.store.GetTask(job.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return jobs.Fatal(fmt.Errorf("task %s does not exist", job.TaskID))
	}
	switch task.Status {
	case models.TaskStatusPending, models.TaskStatusQueued:
		// Fresh dispatch, or a redelivery resuming an interrupted pass.
	default:
		log.Printf("Task %s already planned (status %s), skipping decompose", task.ID, task.Status)
		return nil
	}

	// A redelivered job picks up subtasks an earlier pass already created
	// instead of planning again and duplicating the set.
	existing, err := o.store.Subtasks(task.ID)
	if err != nil {
		return err
	}

	var subtaskIDs []string
	if len(existing) > 0 {
		log.Printf("Task %s already has %d subtasks, resuming fan-out", task.ID, len(existing))
		for _, sub := range existing {
			subtaskIDs = append(subtaskIDs, sub.ID)
		}
	} else {
		req := models.DispatchRequest{
			Description: task.Description,
			Priority:    task.Priority,
			Context:     task.ContextSummary,
		}

		plan, usage, err := o.planner.Decompose(ctx, req)
		if err != nil {
			log.Printf("Planning failed for task %s, falling back to single subtask: %v", task.ID, err)
			plan = decompose.Fallback(req)
		}
		if usage.Total() > 0 {
			if err := o.store.AddCost(task.ID, usage.Cost(), usage.Total()); err != nil {
				return err
			}
		}

		subtaskIDs = make([]string, len(plan.Subtasks))
		for i, st := range plan.Subtasks {
			sub, err := o.store.CreateTask(store.CreateTaskParams{
				ParentID:            task.ID,
				UserID:              task.UserID,
				Priority:            task.Priority,
				ExecutorType:        st.ExecutorType,
				Description:         st.Description,
				ContextSummary:      task.ContextSummary,
				OriginatingDispatch: task.OriginatingDispatch,
			})
			if err != nil {
				return err
			}
			subtaskIDs[i] = sub.ID
		}

		for i, st := range plan.Subtasks {
			for _, idx := range st.DependsOnIndices {
				if idx == i || idx < 0 || idx >= len(subtaskIDs) {
					log.Printf("Dropping invalid dependency index %d on subtask %s", idx, subtaskIDs[i])
					continue
				}
				if err := o.store.AddDependency(subtaskIDs[i], subtaskIDs[idx]); err != nil {
					if errors.Is(err, graph.ErrCycleDetected) || errors.Is(err, graph.ErrSelfDependency) {
						log.Printf("Dropping dependency %s -> %s: %v", subtaskIDs[i], subtaskIDs[idx], err)
						continue
					}
					return err
				}
			}
		}

		if _, err := o.publish(models.SourceJarvis, "", task, models.DecomposedPayload{
			SubtaskCount: len(subtaskIDs),
			SubtaskIDs:   subtaskIDs,
			Reasoning:    plan.Reasoning,
		}); err != nil {
			return err
		}
	}

	// Subtasks queue before the parent, and execute jobs enqueue only after
	// the parent is queued: fan-in ignores a parent that is not yet queued,
	// so a subtask must not be able to complete before that transition lands.
	for _, id := range subtaskIDs {
		sub, err := o.store.GetTask(id)
		if err != nil {
			return err
		}
		if err := o.queueTask(sub); err != nil && !transitionLost(err) {
			return err
		}
	}
	if err := o.queueTask(task); err != nil && !transitionLost(err) {
		return err
	}

	for _, id := range subtaskIDs {
		met, err := o.store.DependenciesMet(id)
		if err != nil {
			return err
		}
		if met {
			if err := o.queue.EnqueueExecute(id, task.UserID); err != nil {
				return err
			}
		}
	}
	return nil
}

// HandleExecute runs one executable task. An unmet dependency gate is a
// retryable condition; a redelivery for a settled task is logged and
// swallowed because the state machine already did its job.
func (o *Orchestrator) HandleExecute(ctx context.Context, job *models.Job) error {
	task, err := o.store.GetTask(job.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return jobs.Fatal(fmt.Errorf("task %s does not exist", job.TaskID))
	}

	met, err := o.store.DependenciesMet(task.ID)
	if err != nil {
		return err
	}
	if !met {
		return jobs.Retryable(fmt.Errorf("dependencies not met for task %s", task.ID))
	}

	exec, err := o.registry.Get(task.ExecutorType)
	if err != nil {
		return jobs.Fatal(err)
	}

	result, err := exec.Execute(ctx, task)
	if err != nil {
		var tErr *lifecycle.InvalidTransitionError
		if errors.As(err, &tErr) {
			log.Printf("Skipping redelivered execution for task %s: %v", task.ID, err)
			return nil
		}
		return err
	}

	switch {
	case result.NeedsInput:
		return o.settleNeedsInput(task, result)
	case result.Success:
		return o.settleSuccess(task, result)
	default:
		return o.settleFailure(task, result)
	}
}

func (o *Orchestrator) settleNeedsInput(task *models.Task, result *models.ExecutionResult) error {
	task, err := o.store.TransitionTask(task.ID, models.TaskStatusNeedsInput, nil)
	if err != nil {
		return err
	}

	payload := models.NeedsInputPayload{Question: result.InputRequest.Question, Options: result.InputRequest.Options}
	evID, err := o.publish(models.SourceExecutor, string(task.ExecutorType), task, payload)
	if err != nil {
		return err
	}
	return o.notify(evID, payload.EventType(), task, result.InputRequest.Question, task.Priority)
}

func (o *Orchestrator) settleSuccess(task *models.Task, result *models.ExecutionResult) error {
	task, err := o.store.TransitionTask(task.ID, models.TaskStatusCompleted, &store.TransitionMeta{Result: result.Result})
	if err != nil {
		return err
	}

	payload := models.CompletedPayload{
		Summary:    result.Result.Summary,
		TokensUsed: result.TokensUsed,
		CostUSD:    result.CostUSD,
	}
	evID, err := o.publish(models.SourceExecutor, string(task.ExecutorType), task, payload)
	if err != nil {
		return err
	}
	if err := o.notify(evID, payload.EventType(), task, "", ""); err != nil {
		return err
	}

	// Completion is the only outcome that unblocks downstream work.
	if err := o.cascade(task); err != nil {
		return err
	}
	if task.ParentID != "" {
		return o.maybeFinalizeParent(task.ParentID)
	}
	return nil
}

func (o *Orchestrator) settleFailure(task *models.Task, result *models.ExecutionResult) error {
	taskErr := result.Error
	if taskErr == nil {
		taskErr = &models.TaskError{Code: "EXECUTION_FAILED", Message: "executor reported no outcome"}
	}

	task, err := o.store.TransitionTask(task.ID, models.TaskStatusFailed, &store.TransitionMeta{Error: taskErr})
	if err != nil {
		return err
	}

	payload := models.FailedPayload{Error: taskErr.Message, Recoverable: taskErr.Recoverable}
	evID, err := o.publish(models.SourceExecutor, string(task.ExecutorType), task, payload)
	if err != nil {
		return err
	}
	// A failure demands attention at high priority no matter how the task
	// itself was prioritized.
	return o.notify(evID, payload.EventType(), task, taskErr.Message, models.PriorityHigh)
}

// cascade enqueues every queued dependent whose gate just opened.
func (o *Orchestrator) cascade(task *models.Task) error {
	dependents, err := o.store.Dependents(task.ID)
	if err != nil {
		return err
	}
	for _, edge := range dependents {
		dep, err := o.store.GetTask(edge.TaskID)
		if err != nil {
			return err
		}
		if dep == nil || dep.Status != models.TaskStatusQueued {
			continue
		}
		met, err := o.store.DependenciesMet(dep.ID)
		if err != nil {
			return err
		}
		if met {
			if err := o.queue.EnqueueExecute(dep.ID, dep.UserID); err != nil {
				return err
			}
		}
	}
	return nil
}

// maybeFinalizeParent completes a dispatch root once every subtask has
// completed, rolling their summaries up into one result.
func (o *Orchestrator) maybeFinalizeParent(parentID string) error {
	parent, err := o.store.GetTask(parentID)
	if err != nil {
		return err
	}
	if parent == nil || parent.Status != models.TaskStatusQueued {
		return nil
	}

	subtasks, err := o.store.Subtasks(parentID)
	if err != nil {
		return err
	}

	var summaries []string
	var tokens int64
	var cost float64
	for _, sub := range subtasks {
		if sub.Status != models.TaskStatusCompleted {
			return nil
		}
		if sub.Result != nil && sub.Result.Summary != "" {
			summaries = append(summaries, sub.Result.Summary)
		}
		tokens += sub.TokensUsed
		cost += sub.SpentUSD
	}

	result := &models.TaskResult{Summary: strings.Join(summaries, "\n\n")}
	if result.Summary == "" {
		result.Summary = fmt.Sprintf("All %d subtasks completed.", len(subtasks))
	}

	if _, err := o.store.TransitionTask(parentID, models.TaskStatusRunning, nil); err != nil {
		if transitionLost(err) {
			// Another completion beat us to it.
			return nil
		}
		return err
	}
	parent, err = o.store.TransitionTask(parentID, models.TaskStatusCompleted, &store.TransitionMeta{Result: result})
	if err != nil {
		return err
	}

	payload := models.CompletedPayload{Summary: result.Summary, TokensUsed: tokens, CostUSD: cost}
	evID, err := o.publish(models.SourceJarvis, "", parent, payload)
	if err != nil {
		return err
	}
	return o.notify(evID, payload.EventType(), parent, "", "")
}

// Respond delivers a user answer to a task waiting on input and schedules it
// to resume.
func (o *Orchestrator) Respond(ctx context.Context, taskID, response string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}
	if task.Status != models.TaskStatusNeedsInput {
		return fmt.Errorf("%w: %s is %s", ErrNotAwaitingInput, taskID, task.Status)
	}

	if err := o.store.AppendContext(taskID, fmt.Sprintf("User answered: %s", response)); err != nil {
		return err
	}
	if _, err := o.publish(models.SourceUser, "", task, models.InputReceivedPayload{Response: response}); err != nil {
		return err
	}
	if err := o.store.ClearAttention(taskID); err != nil {
		return err
	}
	if err := o.store.ResolveTaskNotifications(taskID, models.ResolvedViaConversation); err != nil {
		return err
	}
	return o.queue.EnqueueExecute(taskID, task.UserID)
}

// Cancel stops a task. Cancellation never cascades; dependents of a
// cancelled task simply never become runnable.
func (o *Orchestrator) Cancel(ctx context.Context, taskID, reason string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}

	task, err = o.store.TransitionTask(taskID, models.TaskStatusCancelled, nil)
	if err != nil {
		return err
	}

	if _, err := o.publish(models.SourceUser, "", task, models.CancelledPayload{Reason: reason}); err != nil {
		return err
	}
	if err := o.store.ClearAttention(taskID); err != nil {
		return err
	}
	return o.store.ResolveTaskNotifications(taskID, models.ResolvedViaDashboard)
}

// Retry puts a failed task back in the queue.
func (o *Orchestrator) Retry(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}

	task, err = o.store.TransitionTask(taskID, models.TaskStatusQueued, nil)
	if err != nil {
		return err
	}

	if _, err := o.publish(models.SourceUser, "", task, models.QueuedPayload{}); err != nil {
		return err
	}
	if err := o.store.ClearAttention(taskID); err != nil {
		return err
	}
	if err := o.store.ResolveTaskNotifications(taskID, models.ResolvedViaDashboard); err != nil {
		return err
	}
	return o.queue.EnqueueExecute(taskID, task.UserID)
}

// queueTask moves a pending task to queued and records the event.
func (o *Orchestrator) queueTask(task *models.Task) error {
	task, err := o.store.TransitionTask(task.ID, models.TaskStatusQueued, nil)
	if err != nil {
		return err
	}
	_, err = o.publish(models.SourceJarvis, "", task, models.QueuedPayload{})
	return err
}

func (o *Orchestrator) publish(source models.SourceKind, sourceID string, task *models.Task, payload models.EventPayload) (string, error) {
	return o.publisher.Publish(source, sourceID, task.ID, task.UserID, payload)
}

func (o *Orchestrator) notify(eventID string, typ models.EventType, task *models.Task, reason string, priority models.TaskPriority) error {
	_, err := o.notifier.FlagAndNotify(models.Event{ID: eventID, Type: typ}, *task, reason, priority)
	return err
}

// transitionLost reports whether a transition failed only because the task
// already moved on, which a redelivered job treats as work already done.
func transitionLost(err error) bool {
	var tErr *lifecycle.InvalidTransitionError
	return errors.As(err, &tErr) || errors.Is(err, store.ErrTransitionConflict)
}
