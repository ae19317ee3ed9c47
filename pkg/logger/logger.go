// Package logger provides a thin structured logging wrapper shared by all
// application services.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with the service name attached.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the named component at the given level. Unknown
// levels fall back to info.
func New(name, level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &Logger{entry: l.WithField("component", name)}
}

// NewDefault creates an info-level logger for the named component.
func NewDefault(name string) *Logger {
	return New(name, "info")
}

// NewNop creates a logger that discards all output. Intended for tests.
func NewNop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(l)}
}

// WithField returns a logger with the field attached.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)                  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any)                 { l.entry.Error(args...) }
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
