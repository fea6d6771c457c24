// Package logging provides the structured logging surface used throughout
// the collaboration engine. Coordinators accept a Logger via their options
// and fall back to NoOpLogger when none is supplied.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/zap"
)

// Field is a structured logging field. Using a concrete struct (rather than
// interface{} key/value pairs) keeps call sites cheap to construct and easy
// to read.
type Field struct {
	Key   string
	Value interface{}
}

// String, Int, Err and friends build Fields without forcing callers to
// remember interface{} boxing rules.
func String(key, value string) Field   { return Field{Key: key, Value: value} }
func Int(key string, value int) Field  { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Err(err error) Field              { return Field{Key: "error", Value: err} }
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Logger is the structured logging contract. Coordinators never log
// unconditionally at Info or above in the hot path; Debug carries the
// per-update chatter.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// slogLogger adapts log/slog.Handler to Logger, mirroring the teacher's
// structuredLogger wrapper.
type slogLogger struct {
	logger *slog.Logger
}

// New wraps an slog.Handler as a Logger. Passing nil uses a text handler on
// os.Stderr at Info level.
func New(handler slog.Handler) Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &slogLogger{logger: slog.New(handler)}
}

// Default returns the package-wide default logger (text handler on stderr).
func Default() Logger {
	return New(nil)
}

func toAttrs(fields []Field) []any {
	attrs := make([]any, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, toAttrs(fields)...) }
func (l *slogLogger) Info(msg string, fields ...Field)  { l.logger.Info(msg, toAttrs(fields)...) }
func (l *slogLogger) Warn(msg string, fields ...Field)  { l.logger.Warn(msg, toAttrs(fields)...) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.logger.Error(msg, toAttrs(fields)...) }

func (l *slogLogger) WithFields(fields ...Field) Logger {
	return &slogLogger{logger: l.logger.With(toAttrs(fields)...)}
}

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	// slog.Logger doesn't carry context itself; this exists so callers that
	// thread a context through request-scoped fields (trace id, doc id) have
	// a stable extension point without a breaking interface change later.
	return l
}

// zapLogger adapts a *zap.Logger to Logger, for hosts that already run a
// zap-based logging pipeline and want the engine's diagnostics to flow
// through the same sinks and sampling rules rather than a second,
// independent slog tree.
type zapLogger struct {
	logger *zap.Logger
}

// NewZap wraps an existing *zap.Logger as a Logger. Passing nil builds a
// production zap.Logger via zap.NewProduction.
func NewZap(l *zap.Logger) Logger {
	if l == nil {
		l, _ = zap.NewProduction()
	}
	return &zapLogger{logger: l}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)   { l.logger.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)   { l.logger.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field)  { l.logger.Error(msg, toZapFields(fields)...) }

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{logger: l.logger.With(toZapFields(fields)...)}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	return l
}

// NoOpLogger discards everything. It is the zero value default so adapters
// that never configure a Logger don't pay for formatting.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...Field)          {}
func (NoOpLogger) Info(string, ...Field)           {}
func (NoOpLogger) Warn(string, ...Field)           {}
func (NoOpLogger) Error(string, ...Field)          {}
func (n NoOpLogger) WithFields(...Field) Logger    { return n }
func (n NoOpLogger) WithContext(context.Context) Logger { return n }

// OrNoOp returns l, or NoOpLogger{} if l is nil, so callers can always log
// without a nil check.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
