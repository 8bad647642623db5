package models

import "time"

// JobKind names a background step the dispatcher can deliver.
type JobKind string

const (
	JobDecompose JobKind = "task.decompose"
	JobExecute   JobKind = "task.execute"
)

// JobStatus is the queue state of a job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusDead    JobStatus = "dead"
)

// Job is one at-least-once unit of work. A job that fails is re-queued with
// backoff until MaxAttempts, then dead-lettered with its last error.
type Job struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	TaskID      string    `json:"task_id"`
	UserID      string    `json:"user_id"`
	Payload     string    `json:"payload,omitempty"` // kind-specific JSON
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
