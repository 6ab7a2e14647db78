// Package schedule runs ingestion jobs asynchronously on a bounded
// worker pool.
//
// Ordering contract: jobs for the same session run one at a time in
// submission order; jobs for different sessions run in parallel up to
// the worker bound. Submission never blocks on job execution.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/ingest"
)

var (
	// ErrClosed indicates a submission after Close.
	ErrClosed = errors.New("scheduler is closed")

	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")
)

// Defaults for the worker pool and job retry policy.
const (
	DefaultWorkers      = 4
	DefaultJobRetries   = 2
	DefaultRetryBackoff = time.Second
)

// reasonDeleted is the failure reason for jobs canceled by session
// deletion.
const reasonDeleted = "collection deleted"

// JobState is the lifecycle state of a submitted job.
type JobState int

const (
	StateQueued JobState = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is a snapshot of one submitted ingestion job.
type Job struct {
	ID         string
	SessionID  string
	Collection string
	State      JobState

	// Chunks is the persisted chunk count, set on success.
	Chunks int

	// Error is the failure reason, set on failure.
	Error string

	SubmittedAt time.Time
	FinishedAt  time.Time
}

// Ingester is the slice of the document ingester the scheduler needs.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// Registry is the slice of the collection registry session deletion
// needs.
type Registry interface {
	MarkDeleting(name string) error
	FinishDelete(name string)
}

// Store is the slice of the vector store session deletion needs.
type Store interface {
	DeleteCollection(ctx context.Context, name string) error
}

// Config controls the worker pool and retry policy.
type Config struct {
	// Workers bounds concurrent job execution. Default: DefaultWorkers.
	Workers int

	// JobRetries bounds re-runs of a job that failed with a transient
	// error. Default: DefaultJobRetries.
	JobRetries int

	// RetryBackoff is the initial delay before a re-run, doubled per
	// attempt. Default: DefaultRetryBackoff.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.JobRetries < 0 {
		c.JobRetries = 0
	} else if c.JobRetries == 0 {
		c.JobRetries = DefaultJobRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// queued is one pending job with its full request.
type queued struct {
	job *Job
	req ingest.Request
}

// Scheduler owns the worker pool and all job records.
//
// Internal invariant: a collection name appears in ready at most once,
// and never while running[name] is true. That is what serializes jobs
// per session.
type Scheduler struct {
	ingester Ingester
	registry Registry
	store    Store
	naming   collection.Naming
	cfg      Config
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cond     *sync.Cond
	jobs     map[string]*Job
	queues   map[string][]*queued
	running  map[string]bool
	deleting map[string]bool
	ready    []string
	closed   bool
}

// New creates a Scheduler and starts its workers. logger may be nil.
// Callers must Close it to release the pool.
func New(ingester Ingester, registry Registry, store Store, naming collection.Naming, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ingester: ingester,
		registry: registry,
		store:    store,
		naming:   naming,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*Job),
		queues:   make(map[string][]*queued),
		running:  make(map[string]bool),
		deleting: make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.worker()
	}
	return s
}

// Close stops accepting jobs, cancels running work, and waits for the
// workers to drain. Queued jobs that never ran stay Queued.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Submit enqueues one ingestion job and returns its id immediately.
// The job's target collection is resolved now so deletion can find it.
func (s *Scheduler) Submit(req ingest.Request) (string, error) {
	target := s.naming.Resolve(req.SessionID)
	job := &Job{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		Collection:  target.Name,
		State:       StateQueued,
		SubmittedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if s.deleting[target.Name] {
		return "", fmt.Errorf("collection %q: %w", target.Name, collection.ErrDeleting)
	}

	s.jobs[job.ID] = job
	s.queues[target.Name] = append(s.queues[target.Name], &queued{job: job, req: req})
	s.wake(target.Name)

	s.logger.Debug("job submitted", "job_id", job.ID, "collection", target.Name)
	return job.ID, nil
}

// Status returns a snapshot of the job. Completed jobs stay queryable
// for the life of the process.
func (s *Scheduler) Status(jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// DeleteSession tears down a session's collection.
//
// Queued jobs for the session fail immediately with a deletion reason,
// and Submit rejects new jobs for it (collection.ErrDeleting) until the
// teardown resolves. A job already running finishes its current batch
// first. The function returns only after the registry entry and the
// stored collection are gone, so queries issued afterward fall back to
// the global collection.
func (s *Scheduler) DeleteSession(ctx context.Context, sessionID string) error {
	target := s.naming.Resolve(sessionID)
	if target.Global() {
		return fmt.Errorf("refusing to delete the global collection %q", target.Name)
	}

	s.mu.Lock()
	// Refuse new submissions for this collection until deletion
	// resolves. Set in the same critical section that drains the queue,
	// so no job can slip in between drain and MarkDeleting.
	s.deleting[target.Name] = true
	defer func() {
		s.mu.Lock()
		delete(s.deleting, target.Name)
		s.mu.Unlock()
	}()

	now := time.Now().UTC()
	for _, q := range s.queues[target.Name] {
		q.job.State = StateFailed
		q.job.Error = reasonDeleted
		q.job.FinishedAt = now
	}
	canceled := len(s.queues[target.Name])
	delete(s.queues, target.Name)

	// Let an in-flight job for this session complete before touching
	// the store.
	for s.running[target.Name] {
		s.cond.Wait()
	}
	s.mu.Unlock()

	if canceled > 0 {
		s.logger.Info("canceled queued jobs for deleted session",
			"collection", target.Name, "count", canceled)
	}

	if err := s.registry.MarkDeleting(target.Name); err != nil {
		return fmt.Errorf("marking %q for deletion: %w", target.Name, err)
	}
	if err := s.store.DeleteCollection(ctx, target.Name); err != nil {
		// Entry stays in Deleting: ingestion cannot resurrect a
		// half-deleted collection, and the caller can retry.
		return fmt.Errorf("dropping collection %q: %w", target.Name, err)
	}
	s.registry.FinishDelete(target.Name)

	s.logger.Info("session collection deleted", "collection", target.Name)
	return nil
}

// wake marks a collection runnable if nothing for it is in flight.
// Caller holds s.mu.
func (s *Scheduler) wake(name string) {
	if s.running[name] || len(s.queues[name]) == 0 {
		return
	}
	for _, r := range s.ready {
		if r == name {
			return
		}
	}
	s.ready = append(s.ready, name)
	s.cond.Signal()
}

// worker pulls one runnable collection at a time and executes the head
// of its queue.
func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.ready) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}

		name := s.ready[0]
		s.ready = s.ready[1:]

		queue := s.queues[name]
		if len(queue) == 0 {
			// Deletion drained the queue after the wakeup.
			s.mu.Unlock()
			continue
		}
		next := queue[0]
		s.queues[name] = queue[1:]
		if len(s.queues[name]) == 0 {
			delete(s.queues, name)
		}
		s.running[name] = true
		next.job.State = StateRunning
		s.mu.Unlock()

		s.run(next)

		s.mu.Lock()
		delete(s.running, name)
		s.wake(name)
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// run executes one job with bounded retries for transient failures.
func (s *Scheduler) run(q *queued) {
	var (
		res     ingest.Result
		err     error
		backoff = s.cfg.RetryBackoff
	)
	for attempt := 0; attempt <= s.cfg.JobRetries; attempt++ {
		if attempt > 0 {
			if !retryable(err) {
				break
			}
			s.logger.Warn("retrying job",
				"job_id", q.job.ID, "attempt", attempt, "error", err)
			select {
			case <-s.ctx.Done():
				err = s.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if !retryable(err) {
				break
			}
		}

		res, err = s.ingester.Ingest(s.ctx, q.req)
		if err == nil {
			break
		}
	}

	s.mu.Lock()
	q.job.FinishedAt = time.Now().UTC()
	if err != nil {
		q.job.State = StateFailed
		q.job.Error = err.Error()
	} else {
		q.job.State = StateSucceeded
		q.job.Chunks = res.Chunks
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job_id", q.job.ID, "error", err)
	} else {
		s.logger.Info("job succeeded",
			"job_id", q.job.ID, "collection", q.job.Collection, "chunks", res.Chunks)
	}
}

// retryable classifies job errors: infrastructure hiccups are worth a
// re-run, caller mistakes and lifecycle conflicts are not.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ingest.ErrNoSource),
		errors.Is(err, collection.ErrDeleting):
		return false
	}
	return true
}
