package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zphelps/jarvis/internal/graph"
	"github.com/zphelps/jarvis/internal/lifecycle"
	"github.com/zphelps/jarvis/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "jarvis.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, p CreateTaskParams) *models.Task {
	t.Helper()
	if p.UserID == "" {
		p.UserID = "local"
	}
	if p.Description == "" {
		p.Description = "test task"
	}
	task, err := s.CreateTask(p)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func mustTransition(t *testing.T, s *Store, id string, to models.TaskStatus) *models.Task {
	t.Helper()
	task, err := s.TransitionTask(id, to, nil)
	if err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
	return task
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)

	budget := 5.0
	task := mustCreate(t, s, CreateTaskParams{
		Description:         "research flights",
		Priority:            models.PriorityHigh,
		ExecutorType:        models.ExecutorResearch,
		OriginatingDispatch: "book a trip",
		BudgetUSD:           &budget,
	})

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Status != models.TaskStatusPending {
		t.Errorf("new task status = %s, want pending", got.Status)
	}
	if got.Priority != models.PriorityHigh {
		t.Errorf("priority = %s, want high", got.Priority)
	}
	if got.BudgetUSD == nil || *got.BudgetUSD != 5.0 {
		t.Errorf("budget = %v, want 5.0", got.BudgetUSD)
	}
	if got.CompletedAt != nil {
		t.Error("new task should have no completed_at")
	}
}

func TestGetTaskMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetTask("nonexistent")
	if err != nil {
		t.Fatalf("get missing task: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing task, got %+v", got)
	}
}

func TestCreateTaskInvalidPriority(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTask(CreateTaskParams{UserID: "local", Description: "x", Priority: "critical"})
	if err == nil {
		t.Fatal("expected error for unknown priority")
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)

	a := mustCreate(t, s, CreateTaskParams{Description: "a", ExecutorType: models.ExecutorResearch})
	mustCreate(t, s, CreateTaskParams{Description: "b", Priority: models.PriorityUrgent})
	mustTransition(t, s, a.ID, models.TaskStatusQueued)

	queued, err := s.ListTasks("local", models.TaskFilters{Status: models.TaskStatusQueued})
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != a.ID {
		t.Errorf("queued filter returned %d tasks", len(queued))
	}

	urgent, err := s.ListTasks("local", models.TaskFilters{Priority: models.PriorityUrgent})
	if err != nil {
		t.Fatalf("list urgent: %v", err)
	}
	if len(urgent) != 1 || urgent[0].Description != "b" {
		t.Errorf("priority filter returned %d tasks", len(urgent))
	}

	other, err := s.ListTasks("someone-else", models.TaskFilters{})
	if err != nil {
		t.Fatalf("list other user: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no tasks for other user, got %d", len(other))
	}
}

func TestTransitionStampsCompletedAt(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{ExecutorType: models.ExecutorResearch})

	mustTransition(t, s, task.ID, models.TaskStatusQueued)
	mustTransition(t, s, task.ID, models.TaskStatusRunning)
	done := mustTransition(t, s, task.ID, models.TaskStatusCompleted)

	if done.CompletedAt == nil {
		t.Error("completed task should have completed_at")
	}

	got, _ := s.GetTask(task.ID)
	if got.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{})

	_, err := s.TransitionTask(task.ID, models.TaskStatusCompleted, nil)
	var tErr *lifecycle.InvalidTransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if tErr.From != models.TaskStatusPending || tErr.To != models.TaskStatusCompleted {
		t.Errorf("unexpected edge in error: %+v", tErr)
	}

	// Status must be unchanged after a rejected transition.
	got, _ := s.GetTask(task.ID)
	if got.Status != models.TaskStatusPending {
		t.Errorf("status changed after rejected transition: %s", got.Status)
	}
}

func TestTransitionMissingTask(t *testing.T) {
	s := newTestStore(t)
	_, err := s.TransitionTask("nope", models.TaskStatusQueued, nil)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestTransitionMetaMerge(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{ExecutorType: models.ExecutorResearch})
	mustTransition(t, s, task.ID, models.TaskStatusQueued)

	_, err := s.TransitionTask(task.ID, models.TaskStatusRunning, &TransitionMeta{
		SessionID: "research-abc",
	})
	if err != nil {
		t.Fatalf("transition with meta: %v", err)
	}

	result := &models.TaskResult{Summary: "found three options"}
	_, err = s.TransitionTask(task.ID, models.TaskStatusCompleted, &TransitionMeta{Result: result})
	if err != nil {
		t.Fatalf("complete with result: %v", err)
	}

	got, _ := s.GetTask(task.ID)
	if got.SessionID != "research-abc" {
		t.Errorf("session id = %q, want research-abc", got.SessionID)
	}
	if got.Result == nil || got.Result.Summary != "found three options" {
		t.Errorf("result not persisted: %+v", got.Result)
	}
}

func TestRetryClearsErrorAndCompletedAt(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{ExecutorType: models.ExecutorResearch})
	mustTransition(t, s, task.ID, models.TaskStatusQueued)
	mustTransition(t, s, task.ID, models.TaskStatusRunning)

	_, err := s.TransitionTask(task.ID, models.TaskStatusFailed, &TransitionMeta{
		Error: &models.TaskError{Code: "RESEARCH_FAILED", Message: "boom", Recoverable: true},
	})
	if err != nil {
		t.Fatalf("fail task: %v", err)
	}

	failed, _ := s.GetTask(task.ID)
	if failed.Error == nil || failed.CompletedAt == nil {
		t.Fatal("failed task should carry error and completed_at")
	}

	mustTransition(t, s, task.ID, models.TaskStatusQueued)
	retried, _ := s.GetTask(task.ID)
	if retried.Error != nil {
		t.Errorf("retry should clear error, got %+v", retried.Error)
	}
	if retried.CompletedAt != nil {
		t.Error("retry should clear completed_at")
	}
}

func TestAddCost(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{})

	if err := s.AddCost(task.ID, 0.25, 1200); err != nil {
		t.Fatalf("add cost: %v", err)
	}
	if err := s.AddCost(task.ID, 0.50, 800); err != nil {
		t.Fatalf("add cost again: %v", err)
	}

	got, _ := s.GetTask(task.ID)
	if got.SpentUSD != 0.75 {
		t.Errorf("spent = %v, want 0.75", got.SpentUSD)
	}
	if got.TokensUsed != 2000 {
		t.Errorf("tokens = %d, want 2000", got.TokensUsed)
	}

	if err := s.AddCost("missing", 1, 1); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestAttentionFlag(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{})

	if err := s.FlagAttention(task.ID, "Task needs your input: pick a hotel", models.PriorityHigh); err != nil {
		t.Fatalf("flag attention: %v", err)
	}
	got, _ := s.GetTask(task.ID)
	if !got.RequiresAttention || got.AttentionReason == "" {
		t.Errorf("attention not flagged: %+v", got)
	}

	needs := true
	flagged, err := s.ListTasks("local", models.TaskFilters{NeedsAttention: &needs})
	if err != nil {
		t.Fatalf("list flagged: %v", err)
	}
	if len(flagged) != 1 {
		t.Errorf("expected 1 flagged task, got %d", len(flagged))
	}

	if err := s.ClearAttention(task.ID); err != nil {
		t.Fatalf("clear attention: %v", err)
	}
	got, _ = s.GetTask(task.ID)
	if got.RequiresAttention || got.AttentionReason != "" {
		t.Errorf("attention not cleared: %+v", got)
	}
}

func TestDependencies(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, CreateTaskParams{Description: "a", ExecutorType: models.ExecutorResearch})
	b := mustCreate(t, s, CreateTaskParams{Description: "b", ExecutorType: models.ExecutorResearch})
	c := mustCreate(t, s, CreateTaskParams{Description: "c", ExecutorType: models.ExecutorResearch})

	if err := s.AddDependency(c.ID, a.ID); err != nil {
		t.Fatalf("add dep: %v", err)
	}
	if err := s.AddDependency(c.ID, b.ID); err != nil {
		t.Fatalf("add dep: %v", err)
	}

	// Duplicates are ignored.
	if err := s.AddDependency(c.ID, a.ID); err != nil {
		t.Fatalf("duplicate dep should be ignored: %v", err)
	}
	deps, _ := s.Dependencies(c.ID)
	if len(deps) != 2 {
		t.Errorf("expected 2 deps, got %d", len(deps))
	}

	if err := s.AddDependency(a.ID, a.ID); !errors.Is(err, graph.ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
	if err := s.AddDependency(a.ID, c.ID); !errors.Is(err, graph.ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}

	met, err := s.DependenciesMet(c.ID)
	if err != nil {
		t.Fatalf("deps met: %v", err)
	}
	if met {
		t.Error("deps should be unmet while a and b are pending")
	}

	for _, id := range []string{a.ID, b.ID} {
		mustTransition(t, s, id, models.TaskStatusQueued)
		mustTransition(t, s, id, models.TaskStatusRunning)
		mustTransition(t, s, id, models.TaskStatusCompleted)
	}

	met, _ = s.DependenciesMet(c.ID)
	if !met {
		t.Error("deps should be met after a and b complete")
	}
}

func TestDependenciesMetRequiresCompleted(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, CreateTaskParams{ExecutorType: models.ExecutorResearch})
	b := mustCreate(t, s, CreateTaskParams{ExecutorType: models.ExecutorResearch})
	if err := s.AddDependency(b.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	// A failed dependency never satisfies the gate.
	mustTransition(t, s, a.ID, models.TaskStatusQueued)
	mustTransition(t, s, a.ID, models.TaskStatusRunning)
	mustTransition(t, s, a.ID, models.TaskStatusFailed)

	met, _ := s.DependenciesMet(b.ID)
	if met {
		t.Error("failed dependency should not count as met")
	}
}

func TestNextRunnableTasks(t *testing.T) {
	s := newTestStore(t)
	root := mustCreate(t, s, CreateTaskParams{Description: "root"})
	a := mustCreate(t, s, CreateTaskParams{ParentID: root.ID, Description: "a", ExecutorType: models.ExecutorResearch})
	b := mustCreate(t, s, CreateTaskParams{ParentID: root.ID, Description: "b", ExecutorType: models.ExecutorResearch})
	if err := s.AddDependency(b.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	mustTransition(t, s, root.ID, models.TaskStatusQueued)
	mustTransition(t, s, a.ID, models.TaskStatusQueued)
	mustTransition(t, s, b.ID, models.TaskStatusQueued)

	runnable, err := s.NextRunnableTasks("local")
	if err != nil {
		t.Fatalf("next runnable: %v", err)
	}
	// root has no executor type and b is gated on a, so only a is runnable.
	if len(runnable) != 1 || runnable[0].ID != a.ID {
		t.Fatalf("expected only task a runnable, got %d tasks", len(runnable))
	}

	mustTransition(t, s, a.ID, models.TaskStatusRunning)
	mustTransition(t, s, a.ID, models.TaskStatusCompleted)

	runnable, _ = s.NextRunnableTasks("local")
	if len(runnable) != 1 || runnable[0].ID != b.ID {
		t.Fatalf("after a completes, want only task b, got %d tasks", len(runnable))
	}
}

func TestEventsAppendAndList(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{})

	events := []models.Event{
		{
			ID: "ev-1", Timestamp: time.Now().UTC().Add(-2 * time.Second),
			SourceKind: models.SourceJarvis, Type: models.EventTaskCreated,
			TaskID: task.ID, UserID: "local",
			Payload: models.CreatedPayload{Description: "test task"},
		},
		{
			ID: "ev-2", Timestamp: time.Now().UTC(),
			SourceKind: models.SourceExecutor, SourceID: "research",
			Type: models.EventTaskCompleted, TaskID: task.ID, UserID: "local",
			Payload: models.CompletedPayload{Summary: "done", TokensUsed: 500, CostUSD: 0.01},
		},
	}
	for i := range events {
		if err := s.AppendEvent(&events[i]); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	got, err := s.ListEvents(task.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != "ev-1" || got[1].ID != "ev-2" {
		t.Errorf("events out of order: %s, %s", got[0].ID, got[1].ID)
	}

	completed, ok := got[1].Payload.(models.CompletedPayload)
	if !ok {
		t.Fatalf("payload type = %T, want CompletedPayload", got[1].Payload)
	}
	if completed.TokensUsed != 500 || completed.CostUSD != 0.01 {
		t.Errorf("payload roundtrip mismatch: %+v", completed)
	}
}

func TestNotificationsLifecycle(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{})

	n, err := s.CreateNotification(task.ID, "ev-1", "local", models.ConversationDecision{
		ShouldSurface: true,
		Priority:      models.SurfaceInterrupt,
		Reason:        "Task failed: test task",
	})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}

	pending, err := s.UnresolvedNotifications("local")
	if err != nil {
		t.Fatalf("unresolved: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != n.ID {
		t.Fatalf("expected 1 unresolved notification, got %d", len(pending))
	}
	if pending[0].Decision.Priority != models.SurfaceInterrupt {
		t.Errorf("priority = %s, want interrupt", pending[0].Decision.Priority)
	}

	if err := s.ResolveNotification(n.ID, models.ResolvedViaDashboard); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.ResolveNotification(n.ID, models.ResolvedViaDashboard); err == nil {
		t.Error("resolving twice should fail")
	}

	pending, _ = s.UnresolvedNotifications("local")
	if len(pending) != 0 {
		t.Errorf("expected no unresolved notifications, got %d", len(pending))
	}

	got, _ := s.GetNotification(n.ID)
	if got == nil || !got.Resolved || got.ResolvedVia != models.ResolvedViaDashboard || got.ResolvedAt == nil {
		t.Errorf("resolution not persisted: %+v", got)
	}
}

func TestResolveTaskNotifications(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateTaskParams{})

	for i := 0; i < 3; i++ {
		if _, err := s.CreateNotification(task.ID, "", "local", models.ConversationDecision{
			ShouldSurface: true, Priority: models.SurfaceNextTurn, Reason: "Task completed: test task",
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.ResolveTaskNotifications(task.ID, models.ResolvedViaConversation); err != nil {
		t.Fatalf("resolve task notifications: %v", err)
	}
	pending, _ := s.UnresolvedNotifications("local")
	if len(pending) != 0 {
		t.Errorf("expected all resolved, %d remain", len(pending))
	}

	// Empty set is fine.
	if err := s.ResolveTaskNotifications("no-such-task", models.ResolvedViaTimeout); err != nil {
		t.Errorf("resolving empty set should not error: %v", err)
	}
}

func TestJobQueue(t *testing.T) {
	s := newTestStore(t)

	if job, err := s.ClaimDueJob(); err != nil || job != nil {
		t.Fatalf("empty queue claim = (%v, %v), want (nil, nil)", job, err)
	}

	enqueued, err := s.EnqueueJob(models.JobExecute, "task-1", "local", "", time.Now().UTC())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// A future job must not be claimable yet.
	if _, err := s.EnqueueJob(models.JobDecompose, "task-2", "local", "", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	job, err := s.ClaimDueJob()
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != enqueued.ID {
		t.Fatalf("claimed wrong job: %+v", job)
	}
	if job.Status != models.JobStatusRunning || job.Attempts != 1 {
		t.Errorf("claimed job status/attempts = %s/%d", job.Status, job.Attempts)
	}

	// The running job is out of the queue; only the future one remains.
	if again, _ := s.ClaimDueJob(); again != nil {
		t.Errorf("expected nothing due, claimed %+v", again)
	}

	if err := s.RetryJob(job.ID, "deps not met", 0); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job, _ = s.ClaimDueJob()
	if job == nil || job.Attempts != 2 || job.LastError != "deps not met" {
		t.Fatalf("retried job = %+v", job)
	}

	if err := s.FailJob(job.ID, "executor missing"); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	dead, err := s.DeadJobs(10)
	if err != nil {
		t.Fatalf("dead jobs: %v", err)
	}
	if len(dead) != 1 || dead[0].LastError != "executor missing" {
		t.Fatalf("dead letter = %+v", dead)
	}

	if err := s.CompleteJob(dead[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
}
