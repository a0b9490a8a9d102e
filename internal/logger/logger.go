package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Wallet    string    `json:"wallet,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Type      string    `json:"type"`
	Frame     string    `json:"frame,omitempty"`
	Size      int       `json:"size,omitempty"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Logger appends JSON lines describing one wallet's connection lifecycle.
// A nil *Logger discards everything.
type Logger struct {
	mu     sync.Mutex
	closer io.Closer
	enc    *json.Encoder
	path   string
	wallet string
}

func NewLogger(wallet string) (*Logger, error) {
	logDir, err := getLogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get log directory: %w", err)
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := strings.TrimPrefix(strings.ToLower(wallet), "0x")
	if name == "" {
		name = "anonymous"
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("%s.log", name))

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriterLogger(file, wallet)
	l.closer = file
	l.path = logFile
	return l, nil
}

// NewWriterLogger logs to w; the caller keeps ownership of w.
func NewWriterLogger(w io.Writer, wallet string) *Logger {
	return &Logger{enc: json.NewEncoder(w), wallet: wallet}
}

func getLogDir() (string, error) {
	if dir := os.Getenv("NODEWATCH_LOG_DIR"); dir != "" {
		return dir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var logDir string
	switch runtime.GOOS {
	case "windows":
		logDir = filepath.Join(homeDir, "AppData", "Local", "nodewatch", "logs")
	case "darwin":
		logDir = filepath.Join(homeDir, "Library", "Logs", "nodewatch")
	default:
		logDir = filepath.Join(homeDir, ".local", "share", "nodewatch", "logs")
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			logDir = filepath.Join(xdgData, "nodewatch", "logs")
		}
	}

	return logDir, nil
}

func (l *Logger) Log(entry LogEntry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now()
	if entry.Wallet == "" {
		entry.Wallet = l.wallet
	}
	l.enc.Encode(entry)
}

func (l *Logger) LogFrame(direction, frameType string, size int) {
	l.Log(LogEntry{
		Direction: direction,
		Type:      "frame",
		Frame:     frameType,
		Size:      size,
	})
}

func (l *Logger) LogError(direction string, err error) {
	if err == nil {
		return
	}
	l.Log(LogEntry{
		Direction: direction,
		Type:      "error",
		Error:     err.Error(),
	})
}

func (l *Logger) LogEvent(message string) {
	l.Log(LogEntry{
		Type:    "event",
		Message: message,
	})
}

func (l *Logger) LogState(from, to, reason string) {
	l.Log(LogEntry{
		Type:    "state",
		State:   to,
		Message: from + " -> " + to,
		Error:   reason,
	})
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer != nil {
		err := l.closer.Close()
		l.closer = nil
		return err
	}
	return nil
}

func (l *Logger) GetLogPath() string {
	if l == nil {
		return ""
	}
	return l.path
}
