package pagerender

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger, tagging every entry with the component
// category it originated from. logrus serializes writes internally, so a
// single Logger is safe to share between the receive loop, the supervisor's
// reader goroutines, and caller goroutines.
type Logger struct {
	*logrus.Logger
}

// NewLogger wraps the given logrus logger. A nil argument yields a logger
// that discards everything.
func NewLogger(l *logrus.Logger) *Logger {
	if l == nil {
		return NullLogger()
	}
	return &Logger{Logger: l}
}

// NullLogger returns a logger with discarded output, for callers that want no
// logging at all.
func NullLogger() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

func (l *Logger) category(name string) *logrus.Entry {
	return l.WithField("category", name)
}

// Debugf logs a debug message under the given category.
func (l *Logger) Debugf(category, format string, args ...interface{}) {
	l.category(category).Debugf(format, args...)
}

// Infof logs an informational message under the given category.
func (l *Logger) Infof(category, format string, args ...interface{}) {
	l.category(category).Infof(format, args...)
}

// Warnf logs a warning under the given category.
func (l *Logger) Warnf(category, format string, args ...interface{}) {
	l.category(category).Warnf(format, args...)
}

// Errorf logs an error under the given category.
func (l *Logger) Errorf(category, format string, args ...interface{}) {
	l.category(category).Errorf(format, args...)
}

// Traffic records one observed network exchange. Logging never alters
// filtering decisions.
func (l *Logger) Traffic(method, url string, status int64) {
	l.WithFields(logrus.Fields{
		"category": "network",
		"method":   method,
		"url":      url,
		"status":   status,
	}).Info("request")
}
