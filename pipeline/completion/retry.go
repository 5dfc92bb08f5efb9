package completion

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apexmarketing/contentpipeline/pipeline/logging"
	"github.com/apexmarketing/contentpipeline/pipeline/observability"
)

// RetryingService wraps a Service with bounded retry and exponential backoff.
//
// Rate-limit responses are always retried; other retryable failures are
// retried up to the same cap. Terminal failures are returned immediately.
// The cost of failed attempts is never reported to the caller, so retried
// attempts cannot double-count into a deliverable's accumulated cost.
type RetryingService struct {
	Inner           Service
	MaxAttempts     int
	InitialInterval time.Duration
	Logger          logging.Logger
}

// NewRetryingService creates a RetryingService with the given attempt cap.
func NewRetryingService(inner Service, maxAttempts int, initialInterval time.Duration, logger logging.Logger) *RetryingService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if initialInterval <= 0 {
		initialInterval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &RetryingService{
		Inner:           inner,
		MaxAttempts:     maxAttempts,
		InitialInterval: initialInterval,
		Logger:          logger,
	}
}

// Complete implements Service.
func (s *RetryingService) Complete(ctx context.Context, req Request) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.InitialInterval
	bo.Reset()

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		resp, err := s.Inner.Complete(ctx, req)
		if err == nil {
			durationMS := int(time.Since(start).Milliseconds())
			observability.RecordCompletionCall(req.AgentName, resp.Model, "success", durationMS, resp.Cost)
			return resp, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			s.Logger.Error("completion_terminal_error",
				"agent", req.AgentName,
				"model", req.Model,
				"error", err.Error(),
			)
			observability.RecordCompletionCall(req.AgentName, req.Model, "error", int(time.Since(start).Milliseconds()), 0)
			return nil, err
		}

		if attempt == s.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		s.Logger.Warn("completion_retry",
			"agent", req.AgentName,
			"model", req.Model,
			"attempt", attempt,
			"max_attempts", s.MaxAttempts,
			"backoff", wait.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			observability.RecordCompletionCall(req.AgentName, req.Model, "error", int(time.Since(start).Milliseconds()), 0)
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	observability.RecordCompletionCall(req.AgentName, req.Model, "error", int(time.Since(start).Milliseconds()), 0)
	return nil, lastErr
}

var _ Service = (*RetryingService)(nil)
