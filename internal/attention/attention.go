// Package attention decides whether an event should reach the user, and how
// urgently. Evaluation is pure; persistence lives in the Notifier.
package attention

import (
	"fmt"

	"github.com/zphelps/jarvis/internal/models"
)

// budgetWarnRatio is the spend fraction past which a task is worth
// mentioning even without a terminal event.
const budgetWarnRatio = 0.8

// Evaluate maps one event on one task to a surfacing decision. Checks run in
// strict precedence order: failure beats needs-input beats completion beats
// budget pressure; everything else stays in the background.
func Evaluate(event models.Event, task models.Task) models.ConversationDecision {
	switch event.Type {
	case models.EventTaskFailed:
		return models.ConversationDecision{
			ShouldSurface: true,
			Priority:      models.SurfaceInterrupt,
			Reason:        fmt.Sprintf("Task failed: %s", task.Description),
		}

	case models.EventTaskNeedsInput:
		priority := models.SurfaceNextTurn
		if task.Priority == models.PriorityUrgent || task.Priority == models.PriorityHigh {
			priority = models.SurfaceInterrupt
		}
		return models.ConversationDecision{
			ShouldSurface: true,
			Priority:      priority,
			Reason:        fmt.Sprintf("Task needs your input: %s", task.Description),
		}

	case models.EventTaskCompleted:
		return models.ConversationDecision{
			ShouldSurface: true,
			Priority:      models.SurfaceNextTurn,
			Reason:        fmt.Sprintf("Task completed: %s", task.Description),
		}
	}

	if task.BudgetUSD != nil && *task.BudgetUSD > 0 {
		ratio := task.SpentUSD / *task.BudgetUSD
		if ratio > budgetWarnRatio {
			return models.ConversationDecision{
				ShouldSurface: true,
				Priority:      models.SurfaceNextTurn,
				Reason:        fmt.Sprintf("Task approaching budget: %s (%d%% used)", task.Description, int(ratio*100)),
			}
		}
	}

	return models.ConversationDecision{
		ShouldSurface: false,
		Priority:      models.SurfaceBackground,
		Reason:        "No action required",
	}
}

// Store is the slice of persistence the notifier needs.
type Store interface {
	FlagAttention(id, reason string, priority models.TaskPriority) error
	CreateNotification(taskID, eventID, userID string, decision models.ConversationDecision) (*models.Notification, error)
}

// Notifier persists surfacing decisions.
type Notifier struct {
	store Store
}

func NewNotifier(store Store) *Notifier {
	return &Notifier{store: store}
}

// FlagAndNotify evaluates an event and, when it should surface, records a
// notification. Only failure and needs-input also flag the task itself; the
// caller supplies the flag reason and priority (the executor's question at
// the task's priority, or the error message at high). Background decisions
// leave no trace.
func (n *Notifier) FlagAndNotify(event models.Event, task models.Task, reason string, priority models.TaskPriority) (*models.Notification, error) {
	decision := Evaluate(event, task)
	if !decision.ShouldSurface {
		return nil, nil
	}

	switch event.Type {
	case models.EventTaskFailed, models.EventTaskNeedsInput:
		if err := n.store.FlagAttention(task.ID, reason, priority); err != nil {
			return nil, fmt.Errorf("flag attention: %w", err)
		}
	}

	notification, err := n.store.CreateNotification(task.ID, event.ID, task.UserID, decision)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return notification, nil
}
