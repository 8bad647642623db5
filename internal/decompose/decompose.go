// Package decompose turns a dispatch into a plan of dependent subtasks.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zphelps/jarvis/internal/llm"
	"github.com/zphelps/jarvis/internal/models"
)

const maxPlanTokens = 4096

const systemPrompt = `You are a task planner for a personal assistant. Break the user's request into the smallest set of independent subtasks that together accomplish it.

Respond with ONLY a JSON object in this exact format:
{
  "subtasks": [
    {
      "description": "what this subtask accomplishes",
      "executor_type": "research",
      "depends_on_indices": [0],
      "estimated_tokens": 2000
    }
  ],
  "reasoning": "one sentence on why this split"
}

Rules:
- 1 to 8 subtasks. Prefer fewer.
- depends_on_indices lists 0-based positions of sibling subtasks that must complete first. Use [] for none.
- Subtasks with no dependency between them run in parallel.
- executor_type is always "research".`

// Completer is the slice of the LLM client the planner needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int64) (string, llm.Usage, error)
}

// Decomposer plans dispatches with an LLM.
type Decomposer struct {
	client Completer
}

func New(client Completer) *Decomposer {
	return &Decomposer{client: client}
}

// Decompose asks the model for a plan. Callers should treat any error as a
// signal to fall back to a single-subtask plan via Fallback.
func (d *Decomposer) Decompose(ctx context.Context, req models.DispatchRequest) (*models.DecompositionResult, llm.Usage, error) {
	prompt := fmt.Sprintf("Request: %s", req.Description)
	if req.Context != "" {
		prompt += fmt.Sprintf("\n\nContext: %s", req.Context)
	}

	raw, usage, err := d.client.Complete(ctx, systemPrompt, prompt, maxPlanTokens)
	if err != nil {
		return nil, usage, fmt.Errorf("plan request: %w", err)
	}

	result, err := ParseResponse(raw)
	if err != nil {
		return nil, usage, err
	}
	return result, usage, nil
}

// ParseResponse extracts the plan JSON from a model response. The model
// sometimes wraps the object in prose or a code fence, so parsing starts at
// the first brace and ends at the last.
func ParseResponse(raw string) (*models.DecompositionResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var result models.DecompositionResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(result.Subtasks) == 0 {
		return nil, fmt.Errorf("plan has no subtasks")
	}

	for i := range result.Subtasks {
		st := &result.Subtasks[i]
		if strings.TrimSpace(st.Description) == "" {
			return nil, fmt.Errorf("subtask %d has no description", i)
		}
		if st.ExecutorType == "" {
			st.ExecutorType = models.ExecutorResearch
		}
		if st.DependsOnIndices == nil {
			st.DependsOnIndices = []int{}
		}
	}
	return &result, nil
}

// Fallback is the plan used when decomposition fails: the whole dispatch as
// one dependency-free research subtask. A dispatch never fails to plan.
func Fallback(req models.DispatchRequest) *models.DecompositionResult {
	return &models.DecompositionResult{
		Subtasks: []models.DecompositionSubtask{{
			Description:      req.Description,
			ExecutorType:     models.ExecutorResearch,
			DependsOnIndices: []int{},
		}},
		Reasoning: "Executing the request as a single task.",
	}
}
