// Package queue provides the asynchronous job queue driving the pipeline
// stages. The in-process implementation gives at-least-once delivery with
// bounded retry; handlers are required to be idempotent.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/apexmarketing/contentpipeline/pipeline/logging"
)

// Handler processes one job payload. A returned error marks the delivery
// failed; the job is retried until the attempt budget is spent.
type Handler func(ctx context.Context, payload []byte) error

// Enqueuer is the producer-side contract.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobName string, payload []byte) (string, error)
}

// ErrUnknownJob is returned when enqueueing a job with no registered handler.
var ErrUnknownJob = errors.New("no handler registered for job")

// job is one delivery attempt unit.
type job struct {
	id      string
	name    string
	payload []byte
	attempt int
}

type registration struct {
	handler Handler
	timeout time.Duration
}

// Option configures a handler registration.
type Option func(*registration)

// WithTimeout caps each delivery attempt's execution time.
func WithTimeout(d time.Duration) Option {
	return func(r *registration) { r.timeout = d }
}

// InProcess is a single-process job queue: a buffered channel drained by a
// fixed worker pool, with exponential backoff between redelivery attempts.
type InProcess struct {
	mu            sync.RWMutex
	registrations map[string]registration

	jobs        chan job
	workers     int
	maxAttempts int
	baseBackoff time.Duration
	logger      logging.Logger

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	started  bool
	draining sync.WaitGroup
}

// NewInProcess creates a queue with the given worker count and per-job
// attempt budget.
func NewInProcess(workers, maxAttempts int, baseBackoff time.Duration, logger logging.Logger) *InProcess {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	return &InProcess{
		registrations: make(map[string]registration),
		jobs:          make(chan job, 256),
		workers:       workers,
		maxAttempts:   maxAttempts,
		baseBackoff:   baseBackoff,
		logger:        logger.Bind("component", "queue"),
	}
}

// Register binds a handler to a job name. Must be called before Start.
func (q *InProcess) Register(jobName string, handler Handler, opts ...Option) {
	reg := registration{handler: handler}
	for _, opt := range opts {
		opt(&reg)
	}
	q.mu.Lock()
	q.registrations[jobName] = reg
	q.mu.Unlock()
}

// Enqueue queues a job for delivery and returns its id.
func (q *InProcess) Enqueue(ctx context.Context, jobName string, payload []byte) (string, error) {
	q.mu.RLock()
	_, ok := q.registrations[jobName]
	q.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, jobName)
	}
	j := job{id: uuid.NewString(), name: jobName, payload: payload, attempt: 1}
	q.draining.Add(1)
	select {
	case q.jobs <- j:
		return j.id, nil
	case <-ctx.Done():
		q.draining.Done()
		return "", ctx.Err()
	}
}

// Start launches the worker pool.
func (q *InProcess) Start(ctx context.Context) {
	if q.started {
		return
	}
	q.started = true
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(workerCtx)
	}
	q.logger.Info("queue started", "workers", q.workers, "max_attempts", q.maxAttempts)
}

// Stop cancels the workers and waits for them to exit. Queued but
// undelivered jobs are dropped; at-least-once holds only within a running
// process.
func (q *InProcess) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Drain blocks until every enqueued job has finished its delivery attempts.
// Test helper and shutdown aid.
func (q *InProcess) Drain() {
	q.draining.Wait()
}

func (q *InProcess) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			q.deliver(ctx, j)
		}
	}
}

// deliver runs one job to completion or attempt exhaustion, backing off
// between attempts.
func (q *InProcess) deliver(ctx context.Context, j job) {
	defer q.draining.Done()
	log := q.logger.Bind("job", j.name, "job_id", j.id)

	q.mu.RLock()
	reg, ok := q.registrations[j.name]
	q.mu.RUnlock()
	if !ok {
		log.Error("handler vanished after enqueue")
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.baseBackoff
	bo.MaxInterval = 60 * time.Second
	bo.Reset()

	for attempt := j.attempt; attempt <= q.maxAttempts; attempt++ {
		err := q.runAttempt(ctx, reg, j.payload)
		if err == nil {
			if attempt > 1 {
				log.Info("job recovered after retry", "attempt", attempt)
			}
			return
		}
		if ctx.Err() != nil {
			log.Warn("delivery abandoned, queue stopping", "attempt", attempt)
			return
		}
		if attempt == q.maxAttempts {
			log.Error("job failed permanently", "attempts", attempt, "error", err)
			return
		}
		wait := bo.NextBackOff()
		log.Warn("job attempt failed, backing off", "attempt", attempt, "backoff", wait.String(), "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (q *InProcess) runAttempt(ctx context.Context, reg registration, payload []byte) (err error) {
	attemptCtx := ctx
	if reg.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, reg.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return reg.handler(attemptCtx, payload)
}
