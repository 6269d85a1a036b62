package logging

import (
	"os"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("test")
	if err != nil {
		t.Skipf("file logging unavailable in this environment: %v", err)
	}
	defer logger.Close()

	if logger.SessionID() == "" {
		t.Error("expected non-empty session ID")
	}
	if logger.LogPath() == "" {
		t.Error("expected non-empty log path")
	}
}

func TestLoggerWritesLeveledEntries(t *testing.T) {
	logger, err := NewLogger("unit")
	if err != nil {
		t.Skipf("file logging unavailable in this environment: %v", err)
	}

	logger.Infof("hello %s", "world")
	logger.Warnf("watch out")
	logger.Close()

	data, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "[unit] [INFO] hello world") {
		t.Errorf("missing info entry in log output:\n%s", content)
	}
	if !strings.Contains(content, "[unit] [WARN] watch out") {
		t.Errorf("missing warn entry in log output:\n%s", content)
	}
}

func TestSharedSessionID(t *testing.T) {
	a, _ := NewLogger("a")
	b, _ := NewLogger("b")
	defer a.Close()
	defer b.Close()

	if a.SessionID() != b.SessionID() {
		t.Errorf("loggers in one process should share a session ID: %s vs %s", a.SessionID(), b.SessionID())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, err := NewLogger("close")
	if err != nil {
		t.Skipf("file logging unavailable in this environment: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
}
