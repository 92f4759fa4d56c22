package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

type LogrusLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
}

// NewLogrus creates a logger writing to out, or stderr when out is nil.
// Stdout is never used so logs cannot end up in piped report output.
func NewLogrus(out io.Writer) *LogrusLogger {
	if out == nil {
		out = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	return &LogrusLogger{
		logger: logger,
		entry:  logrus.NewEntry(logger),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return NewLogrus(io.Discard)
}

// SetLevel parses and applies a level name such as "debug" or "warn".
func (l *LogrusLogger) SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.logger.SetLevel(parsed)
	return nil
}

// SetFormat switches between "text" and "json" output.
func (l *LogrusLogger) SetFormat(format string) {
	if format == "json" {
		l.logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	l.logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
}

// SetNoColor disables ANSI colors in the text formatter.
func (l *LogrusLogger) SetNoColor(noColor bool) {
	if tf, ok := l.logger.Formatter.(*logrus.TextFormatter); ok {
		tf.DisableColors = noColor
	}
}

func (l *LogrusLogger) Debug(msg string) {
	l.entry.Debug(msg)
}

func (l *LogrusLogger) Info(msg string) {
	l.entry.Info(msg)
}

func (l *LogrusLogger) Warn(msg string) {
	l.entry.Warn(msg)
}

func (l *LogrusLogger) Error(msg string, err error) {
	l.entry.WithError(err).Error(msg)
}

func (l *LogrusLogger) WithField(key string, value interface{}) Logger {
	return &LogrusLogger{
		logger: l.logger,
		entry:  l.entry.WithField(key, value),
	}
}

func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{
		logger: l.logger,
		entry:  l.entry.WithFields(fields),
	}
}
