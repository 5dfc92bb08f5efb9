// Package testutil provides shared test utilities and mocks for the
// pipeline packages.
//
// All mocks in this package let pipeline components be tested in isolation
// without a completion backend or external services.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apexmarketing/contentpipeline/pipeline/completion"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
)

// =============================================================================
// MOCK COMPLETION SERVICE
// =============================================================================

// MockCompletion implements completion.Service for testing.
// Configure responses by agent name; unmatched agents get DefaultContent.
type MockCompletion struct {
	// Responses maps agent names to canned response content.
	Responses map[string]string

	// DefaultContent is returned when no agent name matches.
	DefaultContent string

	// Errors maps agent names to injected errors.
	Errors map[string]error

	// Error, when set, fails every call.
	Error error

	// Delay simulates backend latency.
	Delay time.Duration

	// CompleteFunc allows custom logic. If set, it overrides everything.
	CompleteFunc func(context.Context, completion.Request) (*completion.Response, error)

	// Calls records every request for assertion.
	Calls []completion.Request

	mu sync.Mutex
}

// NewMockCompletion creates a MockCompletion with sensible defaults.
func NewMockCompletion() *MockCompletion {
	return &MockCompletion{
		Responses:      make(map[string]string),
		Errors:         make(map[string]error),
		DefaultContent: "mock generated content",
	}
}

// Complete implements completion.Service.
func (m *MockCompletion) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	custom := m.CompleteFunc
	m.mu.Unlock()

	if custom != nil {
		return custom(ctx, req)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Error != nil {
		return nil, m.Error
	}
	if err, ok := m.Errors[req.AgentName]; ok && err != nil {
		return nil, err
	}

	content := m.DefaultContent
	if c, ok := m.Responses[req.AgentName]; ok {
		content = c
	}
	return &completion.Response{
		Content:      content,
		Model:        req.Model,
		InputTokens:  100,
		OutputTokens: 200,
		Cost:         0.01,
		StopReason:   "end_turn",
	}, nil
}

// WithResponse sets the canned content for an agent.
func (m *MockCompletion) WithResponse(agent, content string) *MockCompletion {
	m.Responses[agent] = content
	return m
}

// WithReview sets a reviewer agent's output to a well-formed review.
func (m *MockCompletion) WithReview(agent, verdict string, score float64, feedback string) *MockCompletion {
	m.Responses[agent] = fmt.Sprintf("VERDICT: %s\nSCORE: %.1f\nFEEDBACK: %s", verdict, score, feedback)
	return m
}

// WithError fails every call with err.
func (m *MockCompletion) WithError(err error) *MockCompletion {
	m.Error = err
	return m
}

// WithAgentError fails calls from one agent with err.
func (m *MockCompletion) WithAgentError(agent string, err error) *MockCompletion {
	m.Errors[agent] = err
	return m
}

// CallCount returns the number of recorded calls.
func (m *MockCompletion) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsFor returns the recorded requests issued by one agent.
func (m *MockCompletion) CallsFor(agent string) []completion.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []completion.Request
	for _, c := range m.Calls {
		if c.AgentName == agent {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// RECORDING LOGGER
// =============================================================================

// RecordingLogger implements logging.Logger and captures messages for
// assertion.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
	bound   []any
}

// LogEntry is one captured log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  []any
}

// NewRecordingLogger creates an empty recording logger.
func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) log(level, msg string, fields []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any(nil), l.bound...), fields...)
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Fields: all})
}

func (l *RecordingLogger) Debug(msg string, fields ...any) { l.log("DEBUG", msg, fields) }
func (l *RecordingLogger) Info(msg string, fields ...any)  { l.log("INFO", msg, fields) }
func (l *RecordingLogger) Warn(msg string, fields ...any)  { l.log("WARN", msg, fields) }
func (l *RecordingLogger) Error(msg string, fields ...any) { l.log("ERROR", msg, fields) }

// Bind returns a child logger sharing the same entry sink.
func (l *RecordingLogger) Bind(fields ...any) logging.Logger {
	return &boundLogger{parent: l, extra: fields}
}

var _ logging.Logger = (*RecordingLogger)(nil)

type boundLogger struct {
	parent *RecordingLogger
	extra  []any
}

func (b *boundLogger) log(level, msg string, fields []any) {
	b.parent.log(level, msg, append(append([]any(nil), b.extra...), fields...))
}

func (b *boundLogger) Debug(msg string, fields ...any) { b.log("DEBUG", msg, fields) }
func (b *boundLogger) Info(msg string, fields ...any)  { b.log("INFO", msg, fields) }
func (b *boundLogger) Warn(msg string, fields ...any)  { b.log("WARN", msg, fields) }
func (b *boundLogger) Error(msg string, fields ...any) { b.log("ERROR", msg, fields) }

func (b *boundLogger) Bind(fields ...any) logging.Logger {
	return &boundLogger{parent: b.parent, extra: append(append([]any(nil), b.extra...), fields...)}
}

// Entries returns a copy of captured entries.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Contains reports whether any captured message contains substr.
func (l *RecordingLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// EVENT SINK
// =============================================================================

// EventSink subscribes to every pipeline event type on a bus and records
// what it sees.
type EventSink struct {
	mu     sync.Mutex
	events []events.Event
}

// NewEventSink creates a sink attached to the bus.
func NewEventSink(bus *events.Bus) *EventSink {
	s := &EventSink{}
	for _, t := range []string{
		events.TypeDeliverableReviewed,
		events.TypeEscalationRaised,
		events.TypeAuditRunCompleted,
	} {
		bus.Subscribe(t, func(_ context.Context, e events.Event) {
			s.mu.Lock()
			s.events = append(s.events, e)
			s.mu.Unlock()
		})
	}
	return s
}

// Events returns a copy of everything captured.
func (s *EventSink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

// OfType returns captured events of one type.
func (s *EventSink) OfType(eventType string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}
