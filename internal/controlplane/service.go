// Package controlplane provides the HTTP API and service layer for Jarvis.
package controlplane

import (
	"context"
	"fmt"
	"strings"

	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/orchestrator"
	"github.com/zphelps/jarvis/internal/store"
)

// DefaultUser is assumed when a request names no user. The daemon is a
// single-tenant local service; the column exists so a hosted deployment can
// scope rows without a schema change.
const DefaultUser = "local"

// Service provides the control plane business logic.
type Service struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
}

// NewService creates a new control plane service.
func NewService(s *store.Store, orch *orchestrator.Orchestrator) *Service {
	return &Service{store: s, orch: orch}
}

// Dispatch accepts a new request and schedules planning.
func (s *Service) Dispatch(ctx context.Context, userID string, req models.DispatchRequest) (*models.Task, error) {
	if req.Priority != "" && !models.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("invalid priority %q", req.Priority)
	}
	return s.orch.Dispatch(ctx, normalizeUser(userID), req)
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(id string) (*models.Task, error) {
	return s.store.GetTask(id)
}

// ListTasks returns a user's tasks narrowed by filters.
func (s *Service) ListTasks(userID string, filters models.TaskFilters) ([]models.Task, error) {
	return s.store.ListTasks(normalizeUser(userID), filters)
}

// Subtasks returns the children of a task.
func (s *Service) Subtasks(taskID string) ([]models.Task, error) {
	return s.store.Subtasks(taskID)
}

// TaskEvents returns a task's event history, oldest first.
func (s *Service) TaskEvents(taskID string, limit int) ([]models.Event, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}
	return s.store.ListEvents(taskID, limit)
}

// Respond delivers a user answer to a waiting task.
func (s *Service) Respond(ctx context.Context, taskID, response string) error {
	if strings.TrimSpace(response) == "" {
		return fmt.Errorf("response must not be empty")
	}
	return s.orch.Respond(ctx, taskID, response)
}

// Cancel stops a task.
func (s *Service) Cancel(ctx context.Context, taskID, reason string) error {
	return s.orch.Cancel(ctx, taskID, reason)
}

// Retry re-queues a failed task.
func (s *Service) Retry(ctx context.Context, taskID string) error {
	return s.orch.Retry(ctx, taskID)
}

// Notifications returns a user's unresolved surfacing decisions.
func (s *Service) Notifications(userID string) ([]models.Notification, error) {
	return s.store.UnresolvedNotifications(normalizeUser(userID))
}

// ResolveNotification marks one notification handled.
func (s *Service) ResolveNotification(id string) error {
	return s.store.ResolveNotification(id, models.ResolvedViaDashboard)
}

// Ping checks the backing database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func normalizeUser(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return DefaultUser
	}
	return userID
}
