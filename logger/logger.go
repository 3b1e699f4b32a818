// Package logger provides the logging abstraction used throughout go-astm,
// so the protocol engine performs no I/O of its own and applications can
// plug in their preferred logging backend.
//
// The default implementation is built on log/slog with a JSON handler; in
// development (ENV=development) a human-readable console handler is used
// instead.
package logger

// Level indicates the logging severity level.
type Level = int8

const (
	// DebugLevel logs are typically voluminous and disabled in production.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need
	// individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger defines a common structured-logging interface with key-value pairs,
// enabling integration with various logging frameworks.
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel, then calls os.Exit(1) even if
	// logging at FatalLevel is disabled.
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger with additional structured context.
	// Key-values added to the child don't affect the parent, and vice versa.
	With(keysAndValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() Level
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level Level)
}

var defLogger = NewSlog(InfoLevel, false)

// GetLogger returns the package default logger.
func GetLogger() Logger { return defLogger }

// SetLevel sets the minimum enabled level of the default logger.
func SetLevel(level Level) { defLogger.SetLevel(level) }

// Debug logs to the default logger at DebugLevel.
func Debug(msg string, keysAndValues ...any) { defLogger.Debug(msg, keysAndValues...) }

// Info logs to the default logger at InfoLevel.
func Info(msg string, keysAndValues ...any) { defLogger.Info(msg, keysAndValues...) }

// Warn logs to the default logger at WarnLevel.
func Warn(msg string, keysAndValues ...any) { defLogger.Warn(msg, keysAndValues...) }

// Error logs to the default logger at ErrorLevel.
func Error(msg string, keysAndValues ...any) { defLogger.Error(msg, keysAndValues...) }

// With creates a child of the default logger with additional context.
func With(keysAndValues ...any) Logger { return defLogger.With(keysAndValues...) }
