// Package eventsink provides the file-backed logger and the CSV-row
// event sink the scheduler writes state flips to.
package eventsink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level orders log severity (Debug < Info < Warn < Error).
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a file-backed, level-filtered, mutex-guarded sink. Close
// flushes and releases the underlying file.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	minLevel Level
}

// NewLogger opens (creating, if necessary) path for append and returns a
// Logger that filters below minLevel.
func NewLogger(path string, minLevel Level) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventsink: create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventsink: open log file: %w", err)
	}
	return &Logger{file: f, minLevel: minLevel}, nil
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("2006-01-02 15:04:05 MST"), level, fmt.Sprintf(format, args...))
	_, _ = l.file.WriteString(line)
	_ = l.file.Sync()
}

func (l *Logger) Debug(format string, args ...any) { l.log(Debug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(Info, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(Warn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(Error, format, args...) }

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
