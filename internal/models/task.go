// Package models defines the core domain types for Jarvis.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusNeedsInput TaskStatus = "needs_input"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority orders tasks and attention decisions.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ExecutorType identifies which executor runs a task.
type ExecutorType string

// ExecutorResearch is the research agent, currently the only executor.
const ExecutorResearch ExecutorType = "research"

// Task is a unit of work created by a dispatch or by decomposition.
// A task with an empty ParentID is a dispatch root; its subtasks point
// back at it. Tasks are never deleted; history lives in status + events.
type Task struct {
	ID                  string       `json:"id"`
	ParentID            string       `json:"parent_id,omitempty"`
	UserID              string       `json:"user_id"`
	Status              TaskStatus   `json:"status"`
	Priority            TaskPriority `json:"priority"`
	ExecutorType        ExecutorType `json:"executor_type,omitempty"`
	SessionID           string       `json:"session_id,omitempty"`
	Description         string       `json:"description"`
	ContextSummary      string       `json:"context_summary,omitempty"`
	OriginatingDispatch string       `json:"originating_dispatch"`

	RequiresAttention bool         `json:"requires_attention"`
	AttentionReason   string       `json:"attention_reason,omitempty"`
	AttentionPriority TaskPriority `json:"attention_priority,omitempty"`

	BudgetUSD  *float64 `json:"budget_usd,omitempty"`
	SpentUSD   float64  `json:"spent_usd"`
	TokensUsed int64    `json:"tokens_used"`

	Result *TaskResult `json:"result,omitempty"`
	Error  *TaskError  `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskResult holds the output of a successfully completed task.
type TaskResult struct {
	Summary string         `json:"summary"`
	Outputs []TaskOutput   `json:"outputs,omitempty"`
	Metrics *ResultMetrics `json:"metrics,omitempty"`
}

// TaskOutput is a single artifact produced by an executor.
type TaskOutput struct {
	Kind        string         `json:"kind"` // "text", "link" or "structured"
	Content     string         `json:"content"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// ResultMetrics records resource usage for a completed task.
type ResultMetrics struct {
	TokensUsed int64   `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMS int64   `json:"duration_ms"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Recoverable     bool   `json:"recoverable"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// Dependency is a directed edge: TaskID cannot run until DependsOn completes.
type Dependency struct {
	TaskID    string `json:"task_id"`
	DependsOn string `json:"depends_on"`
}

// DispatchRequest is the intake shape for a new dispatch.
type DispatchRequest struct {
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority,omitempty"`
	Context     string       `json:"context,omitempty"`
	BudgetUSD   *float64     `json:"budget_usd,omitempty"`
}

// TaskFilters narrows task listings.
type TaskFilters struct {
	Status         TaskStatus
	NeedsAttention *bool
	Priority       TaskPriority
	Limit          int
}

// DecompositionSubtask is one planned subtask from the decomposition step.
// DependsOnIndices references sibling subtasks by position, 0-based.
type DecompositionSubtask struct {
	Description      string       `json:"description"`
	ExecutorType     ExecutorType `json:"executor_type"`
	DependsOnIndices []int        `json:"depends_on_indices"`
	EstimatedTokens  int          `json:"estimated_tokens,omitempty"`
}

// DecompositionResult is the full plan for a dispatch.
type DecompositionResult struct {
	Subtasks  []DecompositionSubtask `json:"subtasks"`
	Reasoning string                 `json:"reasoning"`
}

// ExecutionResult is the outcome of running one task. Exactly one of the
// three outcomes applies: needs-input, success, or failure.
type ExecutionResult struct {
	Success      bool          `json:"success"`
	NeedsInput   bool          `json:"needs_input"`
	InputRequest *InputRequest `json:"input_request,omitempty"`
	Result       *TaskResult   `json:"result,omitempty"`
	Error        *TaskError    `json:"error,omitempty"`
	TokensUsed   int64         `json:"tokens_used"`
	CostUSD      float64       `json:"cost_usd"`
}

// InputRequest is a question an executor needs answered before it can proceed.
type InputRequest struct {
	Question string        `json:"question"`
	Options  []InputOption `json:"options,omitempty"`
	Context  string        `json:"context,omitempty"`
	Priority TaskPriority  `json:"priority,omitempty"`
}

// InputOption is a suggested answer for an InputRequest.
type InputOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Recommended bool   `json:"recommended,omitempty"`
}
