package research

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zphelps/jarvis/internal/events"
	"github.com/zphelps/jarvis/internal/lifecycle"
	"github.com/zphelps/jarvis/internal/llm"
	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/store"
)

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string, _ int64) (string, llm.Usage, error) {
	return f.response, llm.Usage{InputTokens: 1000, OutputTokens: 500}, f.err
}

func setup(t *testing.T, client Completer) (*store.Store, *Executor, *models.Task) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "jarvis.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	task, err := s.CreateTask(store.CreateTaskParams{
		UserID:       "local",
		Description:  "find the best espresso machine under $500",
		ExecutorType: models.ExecutorResearch,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.TransitionTask(task.ID, models.TaskStatusQueued, nil); err != nil {
		t.Fatal(err)
	}

	return s, New(s, events.NewPublisher(s), client), task
}

func TestExecuteSuccess(t *testing.T) {
	s, e, task := setup(t, &fakeCompleter{
		response: `{"status": "complete", "summary": "The Breville Bambino Plus is the best pick.", "findings": ["heats in 3 seconds", "under $500"]}`,
	})

	result, err := e.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || result.NeedsInput || result.Error != nil {
		t.Fatalf("unexpected outcome: %+v", result)
	}
	if result.Result.Summary != "The Breville Bambino Plus is the best pick." {
		t.Errorf("summary = %q", result.Result.Summary)
	}
	if len(result.Result.Outputs) != 2 {
		t.Errorf("outputs = %d, want 2", len(result.Result.Outputs))
	}

	// The run must leave the task in running with a session and its cost
	// recorded; the final transition belongs to the caller.
	got, _ := s.GetTask(task.ID)
	if got.Status != models.TaskStatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.SessionID == "" {
		t.Error("session id not stamped")
	}
	if got.TokensUsed != 1500 {
		t.Errorf("tokens = %d, want 1500", got.TokensUsed)
	}
	if got.SpentUSD == 0 {
		t.Error("spend not recorded")
	}

	evs, _ := s.ListEvents(task.ID, 0)
	if len(evs) != 2 || evs[0].Type != models.EventTaskStarted || evs[1].Type != models.EventTaskProgress {
		t.Errorf("expected started+progress events, got %d", len(evs))
	}
}

func TestExecuteNeedsInput(t *testing.T) {
	_, e, task := setup(t, &fakeCompleter{
		response: `{"status": "needs_input", "question": "Manual or automatic?", "options": [{"id": "a", "label": "Manual"}]}`,
	})

	result, err := e.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.NeedsInput || result.Success {
		t.Fatalf("unexpected outcome: %+v", result)
	}
	if result.InputRequest.Question != "Manual or automatic?" || len(result.InputRequest.Options) != 1 {
		t.Errorf("input request = %+v", result.InputRequest)
	}
}

func TestExecuteAPIFailure(t *testing.T) {
	s, e, task := setup(t, &fakeCompleter{err: errors.New("overloaded")})

	result, err := e.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || result.Error == nil {
		t.Fatalf("unexpected outcome: %+v", result)
	}
	if result.Error.Code != "RESEARCH_FAILED" || !result.Error.Recoverable {
		t.Errorf("error = %+v", result.Error)
	}

	// Cost is recorded even for failed runs.
	got, _ := s.GetTask(task.ID)
	if got.TokensUsed != 1500 {
		t.Errorf("tokens = %d, want 1500", got.TokensUsed)
	}
}

func TestExecuteProseResponseStillSucceeds(t *testing.T) {
	_, e, task := setup(t, &fakeCompleter{response: "Just some prose without any JSON."})

	result, err := e.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("prose response should still succeed: %+v", result)
	}
	if result.Result.Summary != "Just some prose without any JSON." {
		t.Errorf("summary = %q", result.Result.Summary)
	}
}

func TestExecuteRejectsSettledTask(t *testing.T) {
	s, e, task := setup(t, &fakeCompleter{response: "{}"})

	// Settle the task before the (redelivered) execution arrives.
	if _, err := s.TransitionTask(task.ID, models.TaskStatusRunning, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TransitionTask(task.ID, models.TaskStatusCompleted, nil); err != nil {
		t.Fatal(err)
	}

	_, err := e.Execute(context.Background(), task)
	var tErr *lifecycle.InvalidTransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}
