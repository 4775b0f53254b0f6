// Package log provides the process-wide logger, a logrus backend behind a
// small interface with pattern, JSON and text formats.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"firestige.xyz/dissector/internal/config"
	"firestige.xyz/dissector/internal/core"
)

// Logger is the logging surface shared by every package.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	// WithLayer adds the packet ID, layer tag and offset of pc.
	WithLayer(pc core.PacketContext) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

const (
	defaultPattern = "%time [%level] %packet %layer %field %msg"
	defaultTime    = "2006-01-02 15:04:05.000"
)

var (
	mu     sync.RWMutex
	logger Logger = newDefault()
	closer io.Closer
)

// GetLogger returns the global logger. Before Init it logs at info level to stdout.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the global logger with one built from cfg. It may be called
// more than once; the previous file output is closed.
func Init(cfg config.LogConfig) error {
	l, c, err := build(cfg, os.Stdout)
	if err != nil {
		return err
	}

	mu.Lock()
	old := closer
	logger, closer = l, c
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// build assembles a logrus-backed Logger writing to out and any configured outputs.
func build(cfg config.LogConfig, out io.Writer) (Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var f logrus.Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "pattern":
		f = newFormatter(cfg.Pattern, cfg.Time)
	case "json":
		f = &logrus.JSONFormatter{TimestampFormat: timeLayout(cfg.Time)}
	case "text":
		f = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timeLayout(cfg.Time), DisableColors: true}
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s (must be pattern, json or text)", cfg.Format)
	}

	writers := NewMultiWriter().Add(out)
	var c io.Closer
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writers.Add(w)
		c = w
	}

	l := logrus.New()
	l.SetFormatter(f)
	l.SetLevel(level)
	l.SetOutput(writers)
	return &logrusAdapter{entry: logrus.NewEntry(l)}, c, nil
}

func newDefault() Logger {
	l := logrus.New()
	l.SetFormatter(newFormatter(defaultPattern, defaultTime))
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(os.Stdout)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func timeLayout(layout string) string {
	if layout == "" {
		return defaultTime
	}
	return layout
}
