package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, nil)

	logger.Info("translate sent", map[string]string{"index": "0"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entries[0].Level)
	}
	if entries[0].Fields["index"] != "0" {
		t.Fatalf("expected index field, got %v", entries[0].Fields)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, nil)

	logger.Debug("debug", nil)
	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 || entries[0].Level != LevelWarning {
		t.Fatalf("expected single warning entry, got %+v", entries)
	}
}

func TestLoggerWithMergesFields(t *testing.T) {
	buffer := NewBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, nil).With(map[string]string{"session": "s1"})

	logger.Info("ready", map[string]string{"endpoint": "ws://localhost:7513"})

	fields := buffer.List()[0].Fields
	if fields["session"] != "s1" || fields["endpoint"] != "ws://localhost:7513" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoggerFormatsSortedFields(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(nil, LevelInfo, &out)

	logger.Error("closed", map[string]string{"b": "2", "a": "1"})

	line := out.String()
	if !strings.Contains(line, `level=error msg="closed" a="1" b="2"`) {
		t.Fatalf("unexpected output %q", line)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.With(map[string]string{"a": "b"}) != nil {
		t.Fatal("expected nil child logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"DEBUG": LevelDebug, " warn ": LevelWarning, "error": LevelError}
	for input, want := range cases {
		got, ok := ParseLevel(input)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", input, got, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("expected unknown level to fail")
	}
}
