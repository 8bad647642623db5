package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "jarvis.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() *Config {
	return &Config{
		PollInterval:  10 * time.Millisecond,
		MaxConcurrent: 2,
		BackoffBase:   time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherDelivers(t *testing.T) {
	s := newTestStore(t)
	d := New(s, testConfig())

	var delivered atomic.Int32
	d.Register(models.JobExecute, func(_ context.Context, job *models.Job) error {
		if job.TaskID != "task-1" {
			t.Errorf("wrong task id %s", job.TaskID)
		}
		delivered.Add(1)
		return nil
	})

	if err := NewQueue(s).EnqueueExecute("task-1", "local"); err != nil {
		t.Fatal(err)
	}

	d.Start()
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool { return delivered.Load() == 1 })
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	s := newTestStore(t)
	d := New(s, testConfig())

	var attempts atomic.Int32
	d.Register(models.JobExecute, func(_ context.Context, _ *models.Job) error {
		if attempts.Add(1) < 3 {
			return Retryable(errors.New("dependencies not met"))
		}
		return nil
	})

	if err := NewQueue(s).EnqueueExecute("task-1", "local"); err != nil {
		t.Fatal(err)
	}

	d.Start()
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 3 })

	// Nothing should be dead-lettered.
	waitFor(t, 2*time.Second, func() bool {
		dead, err := s.DeadJobs(10)
		return err == nil && len(dead) == 0
	})
}

func TestDispatcherDeadLettersFatal(t *testing.T) {
	s := newTestStore(t)
	d := New(s, testConfig())

	var attempts atomic.Int32
	d.Register(models.JobExecute, func(_ context.Context, _ *models.Job) error {
		attempts.Add(1)
		return Fatal(errors.New("task does not exist"))
	})

	if err := NewQueue(s).EnqueueExecute("gone", "local"); err != nil {
		t.Fatal(err)
	}

	d.Start()
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool {
		dead, err := s.DeadJobs(10)
		return err == nil && len(dead) == 1
	})
	if got := attempts.Load(); got != 1 {
		t.Errorf("fatal job retried: %d attempts", got)
	}
}

func TestDispatcherExhaustsAttempts(t *testing.T) {
	s := newTestStore(t)
	d := New(s, testConfig())

	d.Register(models.JobDecompose, func(_ context.Context, _ *models.Job) error {
		return Retryable(errors.New("still broken"))
	})

	if err := NewQueue(s).EnqueueDecompose("task-1", "local"); err != nil {
		t.Fatal(err)
	}

	d.Start()
	defer d.Stop()

	waitFor(t, 5*time.Second, func() bool {
		dead, err := s.DeadJobs(10)
		return err == nil && len(dead) == 1 && dead[0].Attempts == store.DefaultMaxAttempts
	})
}

func TestDispatcherUnknownKind(t *testing.T) {
	s := newTestStore(t)
	d := New(s, testConfig())

	if _, err := s.EnqueueJob("task.unknown", "task-1", "local", "", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	d.Start()
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool {
		dead, err := s.DeadJobs(10)
		return err == nil && len(dead) == 1
	})
}

func TestErrorMarkers(t *testing.T) {
	base := errors.New("boom")
	if !IsRetryable(Retryable(base)) || IsFatal(Retryable(base)) {
		t.Error("Retryable marker misclassified")
	}
	if !IsFatal(Fatal(base)) || IsRetryable(Fatal(base)) {
		t.Error("Fatal marker misclassified")
	}
	if IsRetryable(base) || IsFatal(base) {
		t.Error("plain error should carry no marker")
	}
	if !errors.Is(Retryable(base), base) || !errors.Is(Fatal(base), base) {
		t.Error("markers should unwrap to the original error")
	}
	if Retryable(nil) != nil || Fatal(nil) != nil {
		t.Error("nil in, nil out")
	}
}
