// Package store provides SQLite-backed persistence for Jarvis.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zphelps/jarvis/internal/lifecycle"
	"github.com/zphelps/jarvis/internal/models"
	_ "modernc.org/sqlite"
)

// ErrTaskNotFound indicates the referenced task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrTransitionConflict indicates the task's status changed between the
// validation read and the conditional update.
var ErrTransitionConflict = errors.New("task status changed concurrently")

// Store provides access to the Jarvis SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		executor_type TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		context_summary TEXT NOT NULL DEFAULT '',
		originating_dispatch TEXT NOT NULL DEFAULT '',
		requires_attention INTEGER NOT NULL DEFAULT 0,
		attention_reason TEXT NOT NULL DEFAULT '',
		attention_priority TEXT NOT NULL DEFAULT '',
		budget_usd REAL,
		spent_usd REAL NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		result_json TEXT,
		error_json TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on),
		FOREIGN KEY (task_id) REFERENCES tasks(id),
		FOREIGN KEY (depends_on) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		source_kind TEXT NOT NULL,
		source_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		correlation_id TEXT NOT NULL DEFAULT '',
		parent_event_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		should_surface INTEGER NOT NULL,
		priority TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		resolved INTEGER NOT NULL DEFAULT 0,
		resolved_via TEXT NOT NULL DEFAULT '',
		resolved_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 4,
		run_after DATETIME NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_deps_task_id ON task_dependencies(task_id);
	CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON task_dependencies(depends_on);
	CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, resolved);
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_after);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// CreateTaskParams carries the caller-supplied fields for a new task.
type CreateTaskParams struct {
	ParentID            string
	UserID              string
	Status              models.TaskStatus
	Priority            models.TaskPriority
	ExecutorType        models.ExecutorType
	Description         string
	ContextSummary      string
	OriginatingDispatch string
	BudgetUSD           *float64
}

// CreateTask inserts a new task. Status defaults to pending and priority to
// medium when unset.
func (s *Store) CreateTask(p CreateTaskParams) (*models.Task, error) {
	if p.Status == "" {
		p.Status = models.TaskStatusPending
	}
	if p.Priority == "" {
		p.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(p.Priority) {
		return nil, fmt.Errorf("invalid priority %q", p.Priority)
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:                  uuid.New().String(),
		ParentID:            p.ParentID,
		UserID:              p.UserID,
		Status:              p.Status,
		Priority:            p.Priority,
		ExecutorType:        p.ExecutorType,
		Description:         p.Description,
		ContextSummary:      p.ContextSummary,
		OriginatingDispatch: p.OriginatingDispatch,
		BudgetUSD:           p.BudgetUSD,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, parent_id, user_id, status, priority, executor_type, description, context_summary, originating_dispatch, budget_usd, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, nullString(task.ParentID), task.UserID, task.Status, task.Priority, task.ExecutorType,
		task.Description, task.ContextSummary, task.OriginatingDispatch, task.BudgetUSD, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

const taskColumns = `id, parent_id, user_id, status, priority, executor_type, session_id, description, context_summary, originating_dispatch,
	requires_attention, attention_reason, attention_priority, budget_usd, spent_usd, tokens_used, result_json, error_json,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var parentID sql.NullString
	var budget sql.NullFloat64
	var resultJSON, errorJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&task.ID, &parentID, &task.UserID, &task.Status, &task.Priority, &task.ExecutorType,
		&task.SessionID, &task.Description, &task.ContextSummary, &task.OriginatingDispatch,
		&task.RequiresAttention, &task.AttentionReason, &task.AttentionPriority,
		&budget, &task.SpentUSD, &task.TokensUsed, &resultJSON, &errorJSON,
		&task.CreatedAt, &task.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		task.ParentID = parentID.String
	}
	if budget.Valid {
		task.BudgetUSD = &budget.Float64
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var r models.TaskResult
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err != nil {
			return nil, fmt.Errorf("decode result for task %s: %w", task.ID, err)
		}
		task.Result = &r
	}
	if errorJSON.Valid && errorJSON.String != "" {
		var e models.TaskError
		if err := json.Unmarshal([]byte(errorJSON.String), &e); err != nil {
			return nil, fmt.Errorf("decode error for task %s: %w", task.ID, err)
		}
		task.Error = &e
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

// GetTask retrieves a task by ID. Returns nil, nil when the task is missing.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

func (s *Store) queryTasks(query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ListTasks returns a user's tasks, newest first, narrowed by filters.
func (s *Store) ListTasks(userID string, filters models.TaskFilters) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{userID}

	if filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, filters.Status)
	}
	if filters.NeedsAttention != nil {
		query += ` AND requires_attention = ?`
		args = append(args, *filters.NeedsAttention)
	}
	if filters.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, filters.Priority)
	}
	query += ` ORDER BY created_at DESC`
	if filters.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filters.Limit)
	}

	return s.queryTasks(query, args...)
}

// ActiveTasks returns the user's tasks that are not yet settled.
func (s *Store) ActiveTasks(userID string) ([]models.Task, error) {
	return s.queryTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND status IN ('pending', 'queued', 'running', 'needs_input') ORDER BY created_at DESC`,
		userID,
	)
}

// Subtasks returns the direct children of a task, oldest first.
func (s *Store) Subtasks(parentID string) ([]models.Task, error) {
	return s.queryTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY created_at ASC`,
		parentID,
	)
}

// TransitionMeta carries the optional fields a transition may set alongside
// the status change. Nil or empty fields leave the stored value untouched.
type TransitionMeta struct {
	Result       *models.TaskResult
	Error        *models.TaskError
	SessionID    string
	ExecutorType models.ExecutorType
}

// TransitionTask moves a task to a new status after validating the edge
// against the freshly read current status. The update is conditional on that
// status so a concurrent writer cannot sneak an illegal edge through; losing
// the race yields ErrTransitionConflict. Transitions into completed, failed
// or cancelled stamp completed_at; the retry edge back to queued clears the
// previous error and completion stamp.
func (s *Store) TransitionTask(id string, to models.TaskStatus, meta *TransitionMeta) (*models.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRow(`SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	from := task.Status
	if err := lifecycle.Validate(from, to); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sets := `status = ?, updated_at = ?`
	args := []any{to, now}

	if lifecycle.Ends(to) {
		sets += `, completed_at = ?`
		args = append(args, now)
		task.CompletedAt = &now
	} else if to == models.TaskStatusQueued && from == models.TaskStatusFailed {
		sets += `, completed_at = NULL, error_json = NULL`
		task.CompletedAt = nil
		task.Error = nil
	}

	if meta != nil {
		if meta.Result != nil {
			b, err := json.Marshal(meta.Result)
			if err != nil {
				return nil, fmt.Errorf("encode result: %w", err)
			}
			sets += `, result_json = ?`
			args = append(args, string(b))
			task.Result = meta.Result
		}
		if meta.Error != nil {
			b, err := json.Marshal(meta.Error)
			if err != nil {
				return nil, fmt.Errorf("encode error: %w", err)
			}
			sets += `, error_json = ?`
			args = append(args, string(b))
			task.Error = meta.Error
		}
		if meta.SessionID != "" {
			sets += `, session_id = ?`
			args = append(args, meta.SessionID)
			task.SessionID = meta.SessionID
		}
		if meta.ExecutorType != "" {
			sets += `, executor_type = ?`
			args = append(args, meta.ExecutorType)
			task.ExecutorType = meta.ExecutorType
		}
	}

	args = append(args, id, from)
	result, err := tx.Exec(`UPDATE tasks SET `+sets+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTransitionConflict, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	task.Status = to
	task.UpdatedAt = now
	return task, nil
}

// AddCost accumulates spend and token usage on a task.
func (s *Store) AddCost(id string, costUSD float64, tokens int64) error {
	result, err := s.db.Exec(
		`UPDATE tasks SET spent_usd = spent_usd + ?, tokens_used = tokens_used + ?, updated_at = ? WHERE id = ?`,
		costUSD, tokens, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("add cost: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// AppendContext adds a line to a task's context summary so later runs can
// see it.
func (s *Store) AppendContext(id, text string) error {
	result, err := s.db.Exec(
		`UPDATE tasks SET context_summary = CASE WHEN context_summary = '' THEN ? ELSE context_summary || char(10) || ? END, updated_at = ? WHERE id = ?`,
		text, text, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("append context: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// FlagAttention marks a task as waiting on the user.
func (s *Store) FlagAttention(id, reason string, priority models.TaskPriority) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET requires_attention = 1, attention_reason = ?, attention_priority = ?, updated_at = ? WHERE id = ?`,
		reason, priority, time.Now().UTC(), id,
	)
	return err
}

// ClearAttention removes the attention flag from a task.
func (s *Store) ClearAttention(id string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET requires_attention = 0, attention_reason = '', attention_priority = '', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
