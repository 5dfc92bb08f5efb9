// Package logging provides the structured logging contract used throughout
// the pipeline, plus a zap-backed production implementation.
//
// Components depend on the Logger interface, never on a concrete logger or a
// package-level global, so tests can substitute a silent or recording logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface.
// Fields are alternating key/value pairs.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

// =============================================================================
// ZAP IMPLEMENTATION
// =============================================================================

// ZapLogger implements Logger on top of zap's sugared logger.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger creates a production ZapLogger at the given level.
// Level is one of "debug", "info", "warn", "error"; unknown levels map to info.
func NewZapLogger(level string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &ZapLogger{s: logger.Sugar()}, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug", "DEBUG":
		return zapcore.DebugLevel
	case "warn", "WARN":
		return zapcore.WarnLevel
	case "error", "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *ZapLogger) Debug(msg string, fields ...any) { l.s.Debugw(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...any)  { l.s.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...any)  { l.s.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...any) { l.s.Errorw(msg, fields...) }

// Bind returns a child logger with the fields attached to every entry.
func (l *ZapLogger) Bind(fields ...any) Logger {
	return &ZapLogger{s: l.s.With(fields...)}
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.s.Sync()
}

// =============================================================================
// NOP IMPLEMENTATION
// =============================================================================

// NopLogger discards all log entries. Useful as a default and in tests.
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields ...any) {}
func (NopLogger) Info(msg string, fields ...any)  {}
func (NopLogger) Warn(msg string, fields ...any)  {}
func (NopLogger) Error(msg string, fields ...any) {}
func (NopLogger) Bind(fields ...any) Logger       { return NopLogger{} }

var _ Logger = (*ZapLogger)(nil)
var _ Logger = NopLogger{}
