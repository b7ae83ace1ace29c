package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with context support
type Logger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// LogLevel defines the logging level
type LogLevel zapcore.Level

const (
	DEBUG LogLevel = LogLevel(zapcore.DebugLevel)
	INFO  LogLevel = LogLevel(zapcore.InfoLevel)
	WARN  LogLevel = LogLevel(zapcore.WarnLevel)
	ERROR LogLevel = LogLevel(zapcore.ErrorLevel)
	FATAL LogLevel = LogLevel(zapcore.FatalLevel)
)

// verbosity 0..5, anything above 5 behaves like 5
var verboseLevels = []LogLevel{FATAL, ERROR, WARN, INFO, DEBUG, DEBUG}

// TraceVerbose is the verbosity at which every inbound gateway message is logged.
const TraceVerbose = 5

// LevelFromVerbose maps a 0..5 verbosity to a log level.
func LevelFromVerbose(verbose int) LogLevel {
	if verbose < 0 {
		verbose = 0
	}
	if verbose >= len(verboseLevels) {
		verbose = len(verboseLevels) - 1
	}
	return verboseLevels[verbose]
}

// contextKey defines a type for context keys
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// NewLogger creates a new Logger instance
func NewLogger(level LogLevel) *Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.Level(level))
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, level: config.Level}
}

// NewVerboseLogger creates a Logger from a 0..5 verbosity.
func NewVerboseLogger(verbose int) *Logger {
	return NewLogger(LevelFromVerbose(verbose))
}

// Wrap adapts an existing zap logger, mainly for tests using zaptest/observer.
func Wrap(logger *zap.Logger) *Logger {
	return &Logger{logger: logger, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// Nop discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop())
}

// With returns a child logger carrying fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{logger: l.logger.With(fields...), level: l.level}
}

// Enabled reports whether level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.logger.Core().Enabled(zapcore.Level(level))
}

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.logger
}

// NewRequestID returns a fresh id for WithRequestID.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID adds request_id to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// EnsureRequestID adds a new request_id unless ctx already has one.
func EnsureRequestID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestIDKey).(string); ok {
		return ctx
	}
	return WithRequestID(ctx, NewRequestID())
}

// getRequestID retrieves request_id from context
func getRequestID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	reqID, ok := ctx.Value(requestIDKey).(string)
	return reqID, ok
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetLogger retrieves the logger stored in ctx, or fallback when none is.
func GetLogger(ctx context.Context, fallback *Logger) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return fallback
}

// logMessage logs a message with the specified level and context
func (l *Logger) logMessage(ctx context.Context, level LogLevel, msg string, fields ...zap.Field) {
	if reqID, ok := getRequestID(ctx); ok {
		fields = append(fields, zap.String(string(requestIDKey), reqID))
	}
	logger := l.logger
	switch level {
	case DEBUG:
		logger.Debug(msg, fields...)
	case INFO:
		logger.Info(msg, fields...)
	case WARN:
		logger.Warn(msg, fields...)
	case ERROR:
		logger.Error(msg, fields...)
	case FATAL:
		logger.Fatal(msg, fields...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.logMessage(ctx, DEBUG, msg, fields...)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.logMessage(ctx, INFO, msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.logMessage(ctx, WARN, msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.logMessage(ctx, ERROR, msg, fields...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.logMessage(ctx, FATAL, msg, fields...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.logger.Sync()
}
