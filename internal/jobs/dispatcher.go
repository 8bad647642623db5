// Package jobs provides a durable at-least-once job queue with a polling
// dispatcher. Jobs survive restarts; a handler may therefore see the same
// job more than once and must tolerate redelivery.
package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/store"
)

// Handler processes one job delivery. Returning nil completes the job. An
// error marked Fatal dead-letters it; any other error re-queues it with
// backoff until its attempts run out.
type Handler func(ctx context.Context, job *models.Job) error

// Config defines the dispatcher configuration.
type Config struct {
	// PollInterval is how often the queue is checked for due jobs.
	PollInterval time.Duration
	// MaxConcurrent is the maximum number of jobs in flight at once.
	MaxConcurrent int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  time.Second,
		MaxConcurrent: 4,
		BackoffBase:   5 * time.Second,
	}
}

// Dispatcher polls the job queue and fans deliveries out to handlers.
type Dispatcher struct {
	store    *store.Store
	config   *Config
	handlers map[models.JobKind]Handler

	mu     sync.Mutex
	active int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new dispatcher.
func New(s *store.Store, cfg *Config) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		store:    s,
		config:   cfg,
		handlers: make(map[models.JobKind]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register binds a handler to a job kind. Must be called before Start.
func (d *Dispatcher) Register(kind models.JobKind, h Handler) {
	d.handlers[kind] = h
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.dispatchLoop()
	log.Println("Job dispatcher started")
}

// Stop gracefully stops the dispatcher, waiting for in-flight jobs.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	log.Println("Job dispatcher stopped")
}

func (d *Dispatcher) dispatchLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.pollAndDispatch()
		}
	}
}

// pollAndDispatch drains due jobs up to the concurrency limit.
func (d *Dispatcher) pollAndDispatch() {
	for {
		d.mu.Lock()
		if d.active >= d.config.MaxConcurrent {
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		job, err := d.store.ClaimDueJob()
		if err != nil {
			log.Printf("Error claiming job: %v", err)
			return
		}
		if job == nil {
			return
		}

		d.mu.Lock()
		d.active++
		d.mu.Unlock()

		d.wg.Add(1)
		go d.runJob(job)
	}
}

func (d *Dispatcher) runJob(job *models.Job) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	handler, ok := d.handlers[job.Kind]
	if !ok {
		log.Printf("No handler for job kind %s, dead-lettering %s", job.Kind, job.ID)
		if err := d.store.FailJob(job.ID, fmt.Sprintf("no handler for kind %s", job.Kind)); err != nil {
			log.Printf("Error failing job %s: %v", job.ID, err)
		}
		return
	}

	err := handler(d.ctx, job)
	if err == nil {
		if err := d.store.CompleteJob(job.ID); err != nil {
			log.Printf("Error completing job %s: %v", job.ID, err)
		}
		return
	}

	if IsFatal(err) || job.Attempts >= job.MaxAttempts {
		log.Printf("Job %s (%s) dead-lettered after %d attempts: %v", job.ID, job.Kind, job.Attempts, err)
		if err := d.store.FailJob(job.ID, err.Error()); err != nil {
			log.Printf("Error failing job %s: %v", job.ID, err)
		}
		return
	}

	backoff := d.backoff(job.Attempts)
	log.Printf("Job %s (%s) attempt %d failed, retrying in %s: %v", job.ID, job.Kind, job.Attempts, backoff, err)
	if err := d.store.RetryJob(job.ID, err.Error(), backoff); err != nil {
		log.Printf("Error retrying job %s: %v", job.ID, err)
	}
}

// backoff doubles per attempt: base, 2*base, 4*base, ...
func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.config.BackoffBase
	for i := 1; i < attempts; i++ {
		b *= 2
	}
	return b
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"active_jobs":    d.active,
		"max_concurrent": d.config.MaxConcurrent,
	}
}
