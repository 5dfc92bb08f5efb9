// Package completion defines the Completion Service consumed by agent
// capabilities, its error taxonomy, and the retrying client wrapper.
//
// The Completion Service is an external collaborator: given a system
// instruction and a user message plus a model identifier, it returns generated
// text, token counts, and a cost figure. Failures are classified as retryable
// (rate limit, timeout, upstream unavailable) or terminal (invalid request) so
// callers can decide redelivery without inspecting error strings.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// Request is a single completion call.
type Request struct {
	AgentName         string  `json:"agent_name"` // For cost attribution and logging
	SystemInstruction string  `json:"system_instruction"`
	UserMessage       string  `json:"user_message"`
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
}

// Response is the structured result of a completion call.
type Response struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"` // USD
	StopReason   string  `json:"stop_reason,omitempty"`
}

// Service is the interface to the completion endpoint.
type Service interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind classifies completion failures.
type ErrorKind string

const (
	// ErrorKindRateLimited indicates the endpoint refused the call for rate
	// limiting. Always retried up to the attempt cap.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindUnavailable indicates a transient upstream failure (5xx).
	ErrorKindUnavailable ErrorKind = "unavailable"
	// ErrorKindTimeout indicates the call exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindInvalidRequest indicates a terminal request error. Never retried.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
)

// Error is a classified completion failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("completion %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on redelivery.
func (e *Error) Retryable() bool {
	return e.Kind == ErrorKindRateLimited ||
		e.Kind == ErrorKindUnavailable ||
		e.Kind == ErrorKindTimeout
}

// RateLimited creates a rate-limited error.
func RateLimited(msg string, err error) *Error {
	return &Error{Kind: ErrorKindRateLimited, Message: msg, Err: err}
}

// Unavailable creates a transient upstream error.
func Unavailable(msg string, err error) *Error {
	return &Error{Kind: ErrorKindUnavailable, Message: msg, Err: err}
}

// Timeout creates a deadline error.
func Timeout(msg string, err error) *Error {
	return &Error{Kind: ErrorKindTimeout, Message: msg, Err: err}
}

// InvalidRequest creates a terminal request error.
func InvalidRequest(msg string, err error) *Error {
	return &Error{Kind: ErrorKindInvalidRequest, Message: msg, Err: err}
}

// IsRetryable reports whether err is a retryable completion failure.
// Unclassified errors are treated as retryable so an unknown transport fault
// is retried rather than surfaced as a stage failure on first occurrence.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
