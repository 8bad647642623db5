package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zphelps/jarvis/internal/models"
)

// --- Job Queue Operations ---

// DefaultMaxAttempts is how many deliveries a job gets before dead-lettering.
const DefaultMaxAttempts = 4

// EnqueueJob adds a job to the queue, runnable once runAfter passes.
func (s *Store) EnqueueJob(kind models.JobKind, taskID, userID, payload string, runAfter time.Time) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		TaskID:      taskID,
		UserID:      userID,
		Payload:     payload,
		Status:      models.JobStatusPending,
		MaxAttempts: DefaultMaxAttempts,
		RunAfter:    runAfter.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, kind, task_id, user_id, payload, status, attempts, max_attempts, run_after, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Kind, job.TaskID, job.UserID, job.Payload, job.Status, job.MaxAttempts, job.RunAfter, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

const jobColumns = `id, kind, task_id, user_id, payload, status, attempts, max_attempts, run_after, last_error, created_at, updated_at`

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.Kind, &job.TaskID, &job.UserID, &job.Payload, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.RunAfter, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimDueJob atomically takes the oldest due pending job, marks it running
// and bumps its attempt count. Returns nil, nil when nothing is due.
func (s *Store) ClaimDueJob() (*models.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	job, err := scanJob(tx.QueryRow(
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND run_after <= ? ORDER BY run_after ASC, created_at ASC LIMIT 1`,
		models.JobStatusPending, now,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query due job: %w", err)
	}

	result, err := tx.Exec(
		`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusRunning, now, job.ID, models.JobStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	job.Status = models.JobStatusRunning
	job.Attempts++
	job.UpdatedAt = now
	return job, nil
}

// CompleteJob marks a running job done.
func (s *Store) CompleteJob(id string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusDone, time.Now().UTC(), id,
	)
	return err
}

// RetryJob puts a running job back in the queue after a backoff delay.
func (s *Store) RetryJob(id, lastError string, backoff time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusPending, lastError, now.Add(backoff), now, id,
	)
	return err
}

// FailJob dead-letters a job; it will not run again.
func (s *Store) FailJob(id, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusDead, lastError, time.Now().UTC(), id,
	)
	return err
}

// DeadJobs returns dead-lettered jobs, newest first.
func (s *Store) DeadJobs(limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
		models.JobStatusDead, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dead jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
