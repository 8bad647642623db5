package jobs

import (
	"fmt"
	"time"

	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/store"
)

// Queue enqueues the orchestration steps the dispatcher delivers.
type Queue struct {
	store *store.Store
}

func NewQueue(s *store.Store) *Queue {
	return &Queue{store: s}
}

// EnqueueDecompose schedules planning for a dispatch root.
func (q *Queue) EnqueueDecompose(taskID, userID string) error {
	if _, err := q.store.EnqueueJob(models.JobDecompose, taskID, userID, "", time.Now().UTC()); err != nil {
		return fmt.Errorf("enqueue decompose for %s: %w", taskID, err)
	}
	return nil
}

// EnqueueExecute schedules a run of one executable task.
func (q *Queue) EnqueueExecute(taskID, userID string) error {
	if _, err := q.store.EnqueueJob(models.JobExecute, taskID, userID, "", time.Now().UTC()); err != nil {
		return fmt.Errorf("enqueue execute for %s: %w", taskID, err)
	}
	return nil
}
