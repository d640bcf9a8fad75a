// Package logger provides structured logging for the report layer.
// It wraps logrus so components share one configuration surface and
// carry a component field in every line.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls level, format and destination of the logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// Logger is a configured logrus entry. Embedding the entry keeps the
// full logrus API (Infof, WithError, WithField, ...) available.
type Logger struct {
	*logrus.Entry
}

// New creates a Logger from the supplied configuration. Unknown levels
// fall back to info, unknown formats to text, and an unopenable file
// destination to stderr so logging never prevents startup.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	base.SetOutput(resolveOutput(cfg))

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault creates an info-level text logger writing to stdout with
// the given component name attached.
func NewDefault(name string) *Logger {
	log := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	return log.WithComponent(name)
}

// WithComponent returns a Logger carrying a component field.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", name)}
}

// SetOutput redirects the underlying logger. Used by tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.Entry.Logger.SetOutput(w)
}

func resolveOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "report-layer"
		}
		path := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if f, err := openLogFile(path); err == nil {
			return f
		}
		return os.Stderr
	default:
		// Anything else is treated as an explicit file path.
		if f, err := openLogFile(cfg.Output); err == nil {
			return f
		}
		return os.Stderr
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
