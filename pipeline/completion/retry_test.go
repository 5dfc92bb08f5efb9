package completion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyService fails a fixed number of times before succeeding.
type flakyService struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyService) Complete(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Response{Content: "ok", Model: req.Model, Cost: 0.02}, nil
}

func (f *flakyService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyService{failures: 2, err: Unavailable("upstream down", nil)}
	svc := NewRetryingService(inner, 3, time.Millisecond, nil)

	resp, err := svc.Complete(context.Background(), Request{AgentName: "content_engine", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.callCount())
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	inner := &flakyService{failures: 10, err: InvalidRequest("bad model", nil)}
	svc := NewRetryingService(inner, 3, time.Millisecond, nil)

	_, err := svc.Complete(context.Background(), Request{AgentName: "content_engine"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.callCount(), "terminal errors must not be retried")
}

func TestRetryExhaustsAttempts(t *testing.T) {
	inner := &flakyService{failures: 10, err: RateLimited("slow down", nil)}
	svc := NewRetryingService(inner, 3, time.Millisecond, nil)

	_, err := svc.Complete(context.Background(), Request{AgentName: "content_engine"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.callCount())

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorKindRateLimited, ce.Kind)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	inner := &flakyService{failures: 10, err: Unavailable("upstream down", nil)}
	svc := NewRetryingService(inner, 5, 10*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Complete(ctx, Request{AgentName: "content_engine"})
	assert.ErrorIs(t, err, context.Canceled)
}
