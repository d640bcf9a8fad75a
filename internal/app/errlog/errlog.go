// Package errlog maintains the user-facing error ledger: an append-only,
// UTC-timestamped text file with one line per caught failure. The file is
// never truncated or rotated here.
package errlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Log appends failure records to a single file. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the error log at path. Failure to open
// is catastrophic for the caller and is returned rather than swallowed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create error log directory: %w", err)
		}
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log %s: %w", path, err)
	}
	return &Log{f: f, path: path, now: time.Now}, nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append writes one timestamped record.
func (l *Log) Append(msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC().Format(timeLayout)
	if _, err := fmt.Fprintf(l.f, "[%s UTC] %s\n", ts, msg); err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	return nil
}

// Appendf formats and writes one timestamped record.
func (l *Log) Appendf(format string, args ...any) error {
	return l.Append(fmt.Sprintf(format, args...))
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
