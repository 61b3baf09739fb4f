package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Info("serial_open", "device", "/dev/ttyS1")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"msg":"serial_open"`) {
		t.Fatalf("expected json record, got %q", buf.String())
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New("text", slog.LevelWarn, &buf)
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level, got %q", buf.String())
	}
}

func TestSetIgnoresNil(t *testing.T) {
	before := L()
	Set(nil)
	if L() != before {
		t.Fatalf("Set(nil) replaced the global logger")
	}
}

func TestOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webterm.log")
	w, closeFn := Output(path, FileRotation{})
	l := New("text", slog.LevelInfo, w)
	l.Info("file_sink_check")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file_sink_check") {
		t.Fatalf("log file missing record: %q", data)
	}
}

func TestOutputStderrWhenNoPath(t *testing.T) {
	w, closeFn := Output("", FileRotation{})
	if w != os.Stderr {
		t.Fatalf("expected stderr writer")
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
