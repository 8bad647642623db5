package store

import (
	"database/sql"
	"fmt"

	"github.com/zphelps/jarvis/internal/graph"
	"github.com/zphelps/jarvis/internal/models"
)

// --- Dependency Operations ---

// AddDependency records that taskID cannot run until dependsOn completes.
// Self edges and edges that would close a cycle are rejected before insert.
// Duplicate edges are ignored.
func (s *Store) AddDependency(taskID, dependsOn string) error {
	if taskID == dependsOn {
		return fmt.Errorf("%w: %s", graph.ErrSelfDependency, taskID)
	}

	edges, err := s.allDependencies()
	if err != nil {
		return err
	}
	if graph.WouldCycle(edges, taskID, dependsOn) {
		return fmt.Errorf("%w: %s -> %s", graph.ErrCycleDetected, taskID, dependsOn)
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on) VALUES (?, ?)`,
		taskID, dependsOn,
	)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

// Dependencies returns the edges leaving taskID.
func (s *Store) Dependencies(taskID string) ([]models.Dependency, error) {
	return s.queryDependencies(
		`SELECT task_id, depends_on FROM task_dependencies WHERE task_id = ?`, taskID)
}

// Dependents returns the edges arriving at taskID, i.e. the tasks waiting
// on it.
func (s *Store) Dependents(taskID string) ([]models.Dependency, error) {
	return s.queryDependencies(
		`SELECT task_id, depends_on FROM task_dependencies WHERE depends_on = ?`, taskID)
}

func (s *Store) allDependencies() ([]models.Dependency, error) {
	return s.queryDependencies(`SELECT task_id, depends_on FROM task_dependencies`)
}

func (s *Store) queryDependencies(query string, args ...any) ([]models.Dependency, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []models.Dependency
	for rows.Next() {
		var d models.Dependency
		if err := rows.Scan(&d.TaskID, &d.DependsOn); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// DependenciesMet reports whether every dependency of taskID has completed.
// A dependency pointing at a missing task counts as unmet. A task with no
// dependencies is always ready.
func (s *Store) DependenciesMet(taskID string) (bool, error) {
	var blocked int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM task_dependencies d
		 LEFT JOIN tasks t ON t.id = d.depends_on
		 WHERE d.task_id = ? AND (t.status IS NULL OR t.status != ?)`,
		taskID, models.TaskStatusCompleted,
	).Scan(&blocked)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("query unmet dependencies: %w", err)
	}
	return blocked == 0, nil
}

// NextRunnableTasks rescans every queued executable task and returns those
// whose dependencies are all completed. Tasks without an executor type are
// coordination roots awaiting their subtasks and are skipped.
func (s *Store) NextRunnableTasks(userID string) ([]models.Task, error) {
	queued, err := s.queryTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND status = ? AND executor_type != '' ORDER BY created_at ASC`,
		userID, models.TaskStatusQueued,
	)
	if err != nil {
		return nil, err
	}

	var runnable []models.Task
	for _, task := range queued {
		met, err := s.DependenciesMet(task.ID)
		if err != nil {
			return nil, err
		}
		if met {
			runnable = append(runnable, task)
		}
	}
	return runnable, nil
}
