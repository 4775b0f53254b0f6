package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"firestige.xyz/dissector/internal/config"
	"firestige.xyz/dissector/internal/core"
)

func TestDefaultLoggerBeforeInit(t *testing.T) {
	if GetLogger() == nil {
		t.Fatal("Expected a default logger before Init")
	}
	if !GetLogger().IsInfoEnabled() {
		t.Error("Expected default logger at info level")
	}
}

func TestBuildLevels(t *testing.T) {
	tests := []struct {
		input string
		debug bool
		trace bool
	}{
		{"trace", true, true},
		{"debug", true, false},
		{"DEBUG", true, false},
		{"info", false, false},
		{"warn", false, false},
		{"error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			l, _, err := build(config.LogConfig{Level: tt.input}, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("build(%q) returned error: %v", tt.input, err)
			}
			if l.IsDebugEnabled() != tt.debug {
				t.Errorf("build(%q) debug = %v, expected %v", tt.input, l.IsDebugEnabled(), tt.debug)
			}
			if l.IsTraceEnabled() != tt.trace {
				t.Errorf("build(%q) trace = %v, expected %v", tt.input, l.IsTraceEnabled(), tt.trace)
			}
		})
	}
}

func TestBuildInvalidLevel(t *testing.T) {
	_, _, err := build(config.LogConfig{Level: "invalid"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("Expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected error about invalid log level, got: %v", err)
	}
}

func TestBuildInvalidFormat(t *testing.T) {
	_, _, err := build(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("Expected error for invalid log format, got nil")
	}
	if !strings.Contains(err.Error(), "unsupported log format") {
		t.Errorf("Expected error about unsupported format, got: %v", err)
	}
}

func TestPatternOutput(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := build(config.LogConfig{
		Level:   "info",
		Format:  "pattern",
		Pattern: "[%level] %field %msg",
	}, &buf)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	l.WithFields(map[string]interface{}{"protocol": "IPV4", "packet": 7}).Info("layer dissected")
	l.Debug("filtered out")

	got := buf.String()
	want := "[info] packet=7,protocol=IPV4 layer dissected\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := build(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	l.WithError(errors.New("boom")).Warn("sink write failed")

	out := buf.String()
	for _, want := range []string{`"level":"warning"`, `"msg":"sink write failed"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}

func TestFormatterPlaceholders(t *testing.T) {
	f := newFormatter("%time|%level|%msg%n", "2006-01-02")
	entry := &logrus.Entry{
		Time:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:   logrus.ErrorLevel,
		Message: "done",
		Data:    logrus.Fields{},
	}

	b, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if string(b) != "2024-03-01|error|done\n" {
		t.Errorf("Unexpected output %q", b)
	}
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
				},
			},
		},
	}

	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		_ = Init(config.LogConfig{Level: "info"})
	})

	GetLogger().WithField("key", "value").Info("test message")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created at %s: %v", logPath, err)
	}
	if !strings.Contains(string(data), "test message") {
		t.Errorf("Expected message in log file, got %q", data)
	}
}

func TestInitWithMissingFilePath(t *testing.T) {
	cfg := config.LogConfig{
		Level: "info",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				// Missing Path
			},
		},
	}

	err := Init(cfg)
	if err == nil {
		t.Fatal("Expected error for missing file path, got nil")
	}
	if !strings.Contains(err.Error(), "path") {
		t.Errorf("Expected error about missing path, got: %v", err)
	}
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(&b)

	n, err := w.Write([]byte("test"))
	if err != nil {
		t.Errorf("Write failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 bytes written, got %d", n)
	}
	if a.String() != "test" || b.String() != "test" {
		t.Errorf("Expected both writers to receive the data, got %q and %q", a.String(), b.String())
	}
}

func TestLayerPlaceholders(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := build(config.LogConfig{
		Level:   "debug",
		Pattern: "[%level] %packet %layer %field %msg",
	}, &buf)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	pc := core.PacketContext{ID: 42, Tag: core.ProtocolUDP, Start: 34}
	l.WithLayer(pc).WithField("sink", "kafka").Warn("sink write failed")
	l.Info("no packet here")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %q", buf.String())
	}
	if want := "[warning] #42 UDP@34 sink=kafka sink write failed"; lines[0] != want {
		t.Errorf("Expected %q, got %q", want, lines[0])
	}
	if want := "[info] no packet here"; lines[1] != want {
		t.Errorf("Expected %q, got %q", want, lines[1])
	}
}

func TestCallerPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := build(config.LogConfig{Level: "info", Pattern: "%caller %msg"}, &buf)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	l.Info("where")
	if !strings.HasPrefix(buf.String(), "log/logger_test.go:") {
		t.Errorf("Expected the test as caller, got %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriterKeepsGoing(t *testing.T) {
	var a bytes.Buffer
	w := NewMultiWriter().Add(failingWriter{}).Add(&a)

	_, err := w.Write([]byte("line"))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected the writer error, got %v", err)
	}
	if a.String() != "line" {
		t.Errorf("Expected the healthy writer to receive the line, got %q", a.String())
	}
}
