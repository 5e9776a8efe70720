// Package chatlog persists the conversation: a human readable text log and
// a msgpack archive of every payload.
package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TextLog appends timestamped lines to chat_log_<YYYYMMDD_HHMMSS>.txt.
type TextLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenTextLog creates dir if needed and opens a new log file named after
// started.
func OpenTextLog(dir string, started time.Time) (*TextLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "chat_log_"+started.Format("20060102_150405")+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &TextLog{f: f, path: path}, nil
}

// Write appends "[HH:MM:SS] line", adding the trailing newline if missing.
func (l *TextLog) Write(at time.Time, line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.f, "[%s] %s", at.Format("15:04:05"), line)
	return err
}

// Path returns the log file path.
func (l *TextLog) Path() string {
	return l.path
}

func (l *TextLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
