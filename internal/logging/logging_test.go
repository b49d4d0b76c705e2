package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
)

func TestNewWritesToFileAndStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	var buf bytes.Buffer
	logger, closeFn, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1}, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("comment created", slog.String("issue", "TEST-1"))
	logger.Debug("hidden")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(buf.String(), `"issue":"TEST-1"`) {
		t.Fatalf("stream missing record: %s", buf.String())
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug record leaked at info level")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "comment created") {
		t.Fatalf("file missing record: %s", data)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("poll", slog.Int("attempt", 3))
	if !strings.Contains(buf.String(), "attempt=3") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, _, err := New(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, _, err := New(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
