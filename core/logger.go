package core

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// DefaultLogger writes through a logrus logger.
type DefaultLogger struct {
	entry *logrus.Logger
}

// NewDefaultLogger creates a logrus-backed logger writing text with full timestamps
// to stderr. The level comes from LOG_LEVEL and defaults to info.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(ParseLogLevel(os.Getenv("LOG_LEVEL")))
	return &DefaultLogger{entry: l}
}

// NewLogrusLogger wraps an existing logrus logger.
func NewLogrusLogger(l *logrus.Logger) *DefaultLogger {
	if l == nil {
		return NewDefaultLogger()
	}
	return &DefaultLogger{entry: l}
}

// ParseLogLevel maps a level name onto a logrus level, falling back to info.
func ParseLogLevel(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Logrus exposes the underlying logger, e.g. to change its level.
func (l *DefaultLogger) Logrus() *logrus.Logger {
	return l.entry
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	l.with(fields).Debug(msg)
}

func (l *DefaultLogger) Info(msg string, fields ...Field) {
	l.with(fields).Info(msg)
}

func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	l.with(fields).Warn(msg)
}

func (l *DefaultLogger) Error(msg string, fields ...Field) {
	l.with(fields).Error(msg)
}

func (l *DefaultLogger) with(fields []Field) *logrus.Entry {
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}

var (
	pkgLoggerOnce sync.Once
	pkgLogger     Logger
)

func defaultLogger() Logger {
	pkgLoggerOnce.Do(func() {
		pkgLogger = NewDefaultLogger()
	})
	return pkgLogger
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
