// Package config provides the pipeline configuration.
//
// This module contains ONLY configuration relevant to pipeline behavior:
//   - Scoring thresholds and weights
//   - Iteration and retry limits
//   - Model selection per tier
//   - Stage wall-clock budgets
//
// Infrastructure configuration (API keys, queue URLs, database paths) is
// parsed in cmd/pipelined and injected from there. There is no ambient global
// settings object: every constructor takes a *Settings so tests can inject
// alternate thresholds.
package config

import (
	"fmt"
	"math"
)

// Settings holds the pipeline configuration.
type Settings struct {
	// Review scoring
	ApprovalThreshold float64 `json:"approval_threshold"` // Combined score at or above passes review
	BrandVoiceWeight  float64 `json:"brand_voice_weight"`
	QualityWeight     float64 `json:"quality_weight"`

	// Iteration control
	MaxIterations int `json:"max_iterations"` // Revisions before escalation
	ExcerptLength int `json:"excerpt_length"` // Characters of prior body kept per version entry

	// Completion service
	DefaultModel          string `json:"default_model"`
	PremiumModel          string `json:"premium_model"`
	CompletionMaxAttempts int    `json:"completion_max_attempts"`
	CompletionBackoffMS   int    `json:"completion_backoff_ms"` // Initial backoff interval

	// Stage wall-clock budgets (seconds)
	StageTimeout    int `json:"stage_timeout"`     // Single-deliverable stages
	AuditRunTimeout int `json:"audit_run_timeout"` // Full four-stage audit run

	// Queue redelivery
	QueueMaxAttempts int `json:"queue_max_attempts"`

	// Localization
	DefaultLanguage string `json:"default_language"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultSettings returns Settings with production defaults.
func DefaultSettings() *Settings {
	return &Settings{
		ApprovalThreshold: 7.0,
		BrandVoiceWeight:  0.4,
		QualityWeight:     0.6,

		MaxIterations: 5,
		ExcerptLength: 500,

		DefaultModel:          "claude-sonnet-4-20250514",
		PremiumModel:          "claude-opus-4-20250514",
		CompletionMaxAttempts: 3,
		CompletionBackoffMS:   2000,

		StageTimeout:    600,
		AuditRunTimeout: 1800,

		QueueMaxAttempts: 3,

		DefaultLanguage: "en",

		LogLevel: "INFO",
	}
}

// Validate checks the settings for internal consistency.
func (s *Settings) Validate() error {
	if s.ApprovalThreshold < 0 || s.ApprovalThreshold > 10 {
		return fmt.Errorf("approval_threshold %.2f outside [0, 10]", s.ApprovalThreshold)
	}
	if s.BrandVoiceWeight < 0 || s.QualityWeight < 0 {
		return fmt.Errorf("score weights must be non-negative")
	}
	if sum := s.BrandVoiceWeight + s.QualityWeight; math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("score weights must sum to 1.0, got %.4f", sum)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", s.MaxIterations)
	}
	if s.ExcerptLength <= 0 {
		return fmt.Errorf("excerpt_length must be positive, got %d", s.ExcerptLength)
	}
	if s.DefaultModel == "" || s.PremiumModel == "" {
		return fmt.Errorf("default_model and premium_model are required")
	}
	if s.CompletionMaxAttempts <= 0 {
		return fmt.Errorf("completion_max_attempts must be positive, got %d", s.CompletionMaxAttempts)
	}
	if s.QueueMaxAttempts <= 0 {
		return fmt.Errorf("queue_max_attempts must be positive, got %d", s.QueueMaxAttempts)
	}
	if s.StageTimeout <= 0 || s.AuditRunTimeout <= 0 {
		return fmt.Errorf("stage timeouts must be positive")
	}
	return nil
}

// FromMap creates Settings from a map. Unknown keys are ignored.
func FromMap(m map[string]any) *Settings {
	s := DefaultSettings()

	if v, ok := floatVal(m["approval_threshold"]); ok {
		s.ApprovalThreshold = v
	}
	if v, ok := floatVal(m["brand_voice_weight"]); ok {
		s.BrandVoiceWeight = v
	}
	if v, ok := floatVal(m["quality_weight"]); ok {
		s.QualityWeight = v
	}
	if v, ok := intVal(m["max_iterations"]); ok {
		s.MaxIterations = v
	}
	if v, ok := intVal(m["excerpt_length"]); ok {
		s.ExcerptLength = v
	}
	if v, ok := m["default_model"].(string); ok {
		s.DefaultModel = v
	}
	if v, ok := m["premium_model"].(string); ok {
		s.PremiumModel = v
	}
	if v, ok := intVal(m["completion_max_attempts"]); ok {
		s.CompletionMaxAttempts = v
	}
	if v, ok := intVal(m["completion_backoff_ms"]); ok {
		s.CompletionBackoffMS = v
	}
	if v, ok := intVal(m["stage_timeout"]); ok {
		s.StageTimeout = v
	}
	if v, ok := intVal(m["audit_run_timeout"]); ok {
		s.AuditRunTimeout = v
	}
	if v, ok := intVal(m["queue_max_attempts"]); ok {
		s.QueueMaxAttempts = v
	}
	if v, ok := m["default_language"].(string); ok {
		s.DefaultLanguage = v
	}
	if v, ok := m["log_level"].(string); ok {
		s.LogLevel = v
	}

	return s
}

func intVal(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func floatVal(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
