// Package logger provides the structured logger shared by all services.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Logger wraps a logrus entry so services carry their component name in
// every line.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with a component name.
func NewDefault(name string) *Logger {
	return New(LoggingConfig{Level: "info"}).Named(name)
}

// Named returns a copy of the logger tagged with a component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", name)}
}

// With returns a copy of the logger with an extra field attached.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}
