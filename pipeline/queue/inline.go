package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Inline is an Enqueuer that runs each job synchronously in the caller's
// goroutine with no retry. Used by tests and single-shot CLI commands where
// deferred execution has no value.
type Inline struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewInline creates an empty inline queue.
func NewInline() *Inline {
	return &Inline{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job name.
func (q *Inline) Register(jobName string, handler Handler, _ ...Option) {
	q.mu.Lock()
	q.handlers[jobName] = handler
	q.mu.Unlock()
}

// Enqueue executes the job immediately and returns its error.
func (q *Inline) Enqueue(ctx context.Context, jobName string, payload []byte) (string, error) {
	q.mu.RLock()
	h, ok := q.handlers[jobName]
	q.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, jobName)
	}
	id := uuid.NewString()
	if err := h(ctx, payload); err != nil {
		return id, err
	}
	return id, nil
}
