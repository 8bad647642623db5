// Package research implements the research executor: it answers a task with
// a single LLM exchange and reports structured results.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zphelps/jarvis/internal/events"
	"github.com/zphelps/jarvis/internal/llm"
	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/store"
)

const maxResponseTokens = 8192

const systemPrompt = `You are a research assistant working on one task for a personal assistant system. Complete the task thoroughly.

Respond with ONLY a JSON object in one of these two formats.

When you can complete the task:
{
  "status": "complete",
  "summary": "concise answer, a few sentences",
  "findings": ["notable finding", "another finding"]
}

When you are blocked on a decision only the user can make:
{
  "status": "needs_input",
  "question": "the question for the user",
  "options": [{"id": "a", "label": "short label", "description": "why", "recommended": true}]
}`

// summaryLimit caps what gets copied into event payloads.
const summaryLimit = 500

// Completer is the slice of the LLM client the executor needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, llm.Usage, error)
}

// Executor is the research executor.
type Executor struct {
	store     *store.Store
	publisher *events.Publisher
	client    Completer
}

func New(s *store.Store, p *events.Publisher, client Completer) *Executor {
	return &Executor{store: s, publisher: p, client: client}
}

// Name returns the executor type.
func (e *Executor) Name() models.ExecutorType {
	return models.ExecutorResearch
}

// Execute runs the task. The transition into running happens first against
// fresh persisted state, so a redelivery for a settled task surfaces an
// InvalidTransitionError here and nothing runs twice.
func (e *Executor) Execute(ctx context.Context, task *models.Task) (*models.ExecutionResult, error) {
	sessionID := task.SessionID
	if sessionID == "" {
		sessionID = "research-" + uuid.New().String()
	}

	task, err := e.store.TransitionTask(task.ID, models.TaskStatusRunning, &store.TransitionMeta{
		SessionID:    sessionID,
		ExecutorType: models.ExecutorResearch,
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.publisher.Publish(models.SourceExecutor, string(e.Name()), task.ID, task.UserID, models.StartedPayload{
		ExecutorType: models.ExecutorResearch,
		SessionID:    sessionID,
	}); err != nil {
		return nil, err
	}
	if _, err := e.publisher.Publish(models.SourceExecutor, string(e.Name()), task.ID, task.UserID, models.ProgressPayload{
		Message: fmt.Sprintf("Researching: %s", task.Description),
	}); err != nil {
		return nil, err
	}

	prompt := task.Description
	if task.ContextSummary != "" {
		prompt += fmt.Sprintf("\n\nContext: %s", task.ContextSummary)
	}

	started := time.Now()
	raw, usage, err := e.client.Complete(ctx, systemPrompt, prompt, maxResponseTokens)

	if addErr := e.store.AddCost(task.ID, usage.Cost(), usage.Total()); addErr != nil {
		return nil, addErr
	}

	if err != nil {
		return &models.ExecutionResult{
			Error: &models.TaskError{
				Code:            "RESEARCH_FAILED",
				Message:         err.Error(),
				Recoverable:     true,
				SuggestedAction: "Retry the task",
			},
			TokensUsed: usage.Total(),
			CostUSD:    usage.Cost(),
		}, nil
	}

	return e.buildResult(raw, usage, time.Since(started)), nil
}

type responseEnvelope struct {
	Status   string               `json:"status"`
	Summary  string               `json:"summary"`
	Findings []string             `json:"findings"`
	Question string               `json:"question"`
	Options  []models.InputOption `json:"options"`
}

// buildResult interprets the model response. A malformed response is still a
// success with the raw text as the summary; only an explicit needs_input
// envelope pauses the task.
func (e *Executor) buildResult(raw string, usage llm.Usage, elapsed time.Duration) *models.ExecutionResult {
	base := models.ExecutionResult{
		TokensUsed: usage.Total(),
		CostUSD:    usage.Cost(),
	}

	env := parseEnvelope(raw)
	if env != nil && env.Status == "needs_input" && strings.TrimSpace(env.Question) != "" {
		base.NeedsInput = true
		base.InputRequest = &models.InputRequest{
			Question: env.Question,
			Options:  env.Options,
		}
		return &base
	}

	summary := strings.TrimSpace(raw)
	var outputs []models.TaskOutput
	if env != nil && strings.TrimSpace(env.Summary) != "" {
		summary = strings.TrimSpace(env.Summary)
		for _, f := range env.Findings {
			outputs = append(outputs, models.TaskOutput{Kind: "text", Content: f})
		}
	}
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}

	base.Success = true
	base.Result = &models.TaskResult{
		Summary: summary,
		Outputs: outputs,
		Metrics: &models.ResultMetrics{
			TokensUsed: usage.Total(),
			CostUSD:    usage.Cost(),
			DurationMS: elapsed.Milliseconds(),
		},
	}
	return &base
}

func parseEnvelope(raw string) *responseEnvelope {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil
	}
	var env responseEnvelope
	if err := json.Unmarshal([]byte(raw[start:end+1]), &env); err != nil {
		return nil
	}
	return &env
}
