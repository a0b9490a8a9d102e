package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "0xabc")

	l.LogEvent("dialing")
	l.LogFrame("outbound", "ping", 42)
	l.LogState("connecting", "connected", "")
	l.LogError("inbound", errors.New("boom"))
	l.LogError("inbound", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 entries, got %d: %q", len(lines), buf.String())
	}
	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Type != "frame" || entry.Frame != "ping" || entry.Size != 42 {
		t.Fatalf("unexpected frame entry: %+v", entry)
	}
	if entry.Wallet != "0xabc" {
		t.Fatalf("expected wallet 0xabc, got %q", entry.Wallet)
	}
	if err := json.Unmarshal([]byte(lines[3]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Error != "boom" {
		t.Fatalf("expected error boom, got %q", entry.Error)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	l.LogEvent("ignored")
	l.LogState("a", "b", "")
	if err := l.Close(); err != nil {
		t.Fatalf("expected nil close error, got %v", err)
	}
	if l.GetLogPath() != "" {
		t.Fatal("expected empty log path")
	}
}

func TestNewLoggerUsesLogDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NODEWATCH_LOG_DIR", dir)

	l, err := NewLogger("0xABCDEF")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.LogEvent("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := filepath.Join(dir, "abcdef.log")
	if l.GetLogPath() != want {
		t.Fatalf("expected path %s, got %s", want, l.GetLogPath())
	}
	raw, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"hello"`) {
		t.Fatalf("expected hello entry, got %s", raw)
	}
}
