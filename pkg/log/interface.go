// Package log provides structured logging for training and inference runs.
//
// Two backends are configured by SetupLogger: the process-wide slog logger,
// used by command entry points together with ErrAttr, and a zerolog-backed
// Logger returned by GetLogger / GetLoggerWithName, used by library packages.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("train").With(log.RunNameKey, run.Name)
//	logger.Info("Epoch finished",
//	    log.EpochKey, epoch,
//	    log.LossKey, meanLoss,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. Error additionally accepts an
// error as its first field, which is attached under ErrAttrKey.
type Logger interface {
	// Debug logs detailed diagnostic information, e.g. per-step losses.
	Debug(msg string, fields ...any)

	// Info logs general progress such as epoch summaries.
	Info(msg string, fields ...any)

	// Warn logs conditions that do not stop training, such as a
	// non-finite loss.
	Warn(msg string, fields ...any)

	// Error logs a failure. If the first field is an error it is
	// attached with its structured details.
	//
	//   logger.Error("Checkpoint save failed", err, log.StepKey, epoch)
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every record.
	With(fields ...any) Logger

	// Enabled reports whether records at level would be emitted.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers. It allows tests to inject a TestLogger.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}
