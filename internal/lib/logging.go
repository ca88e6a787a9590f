package lib

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel defines the severity of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging for the application
type Logger struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewLogger creates a text logger writing to stderr
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, "text", os.Stderr)
}

// NewLoggerWithWriter creates a logger with the given handler format ("text" or "json")
func NewLoggerWithWriter(level LogLevel, format string, w io.Writer) *Logger {
	lv := &slog.LevelVar{}
	lv.Set(level.slogLevel())

	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{level: lv, logger: slog.New(handler)}
}

// DiscardLogger drops everything; used by tests and embedders
var DiscardLogger = NewLoggerWithWriter(LogLevelError, "text", io.Discard)

// With returns a logger that adds the given fields to every message
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{level: l.level, logger: l.logger.With(fields...)}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...interface{}) {
	l.logger.Debug(message, fields...)
}

// Info logs an informational message
func (l *Logger) Info(message string, fields ...interface{}) {
	l.logger.Info(message, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...interface{}) {
	l.logger.Warn(message, fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...interface{}) {
	l.logger.Error(message, fields...)
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogOperation logs the start and completion of an operation
func LogOperation(logger *Logger, operation string, fn func() error) error {
	logger.Info(fmt.Sprintf("Starting: %s", operation))
	start := time.Now()

	err := fn()

	duration := time.Since(start)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed: %s", operation), "duration", duration, "error", err)
		return err
	}

	logger.Info(fmt.Sprintf("Completed: %s", operation), "duration", duration)
	return nil
}

// LogStepStart logs the start of a module invocation
func LogStepStart(logger *Logger, module string, jobID string, step int) {
	logger.Info(
		"Step started",
		"module", module,
		"job_id", jobID,
		"step", step,
	)
}

// LogStepComplete logs the completion of a module invocation
func LogStepComplete(logger *Logger, module string, jobID string, step int, duration time.Duration) {
	logger.Info(
		"Step completed",
		"module", module,
		"job_id", jobID,
		"step", step,
		"duration", duration,
	)
}

// LogStepFailed logs a failed module invocation
func LogStepFailed(logger *Logger, module string, jobID string, err error) {
	logger.Error(
		"Step failed",
		"module", module,
		"job_id", jobID,
		"error", err,
	)
}

// LogJobAccepted logs job acceptance
func LogJobAccepted(logger *Logger, jobID string, userID string, location string, mapset string) {
	logger.Info(
		"Job accepted",
		"job_id", jobID,
		"user_id", userID,
		"location", location,
		"mapset", mapset,
	)
}

// LogJobFinished logs the terminal state of a job
func LogJobFinished(logger *Logger, jobID string, status string, resources int, duration time.Duration) {
	logger.Info(
		"Job finished",
		"job_id", jobID,
		"status", status,
		"resources", resources,
		"duration", duration,
	)
}
