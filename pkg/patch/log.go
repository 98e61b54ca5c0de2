package patch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// LogVersion is the schema version of apply log entries.
const LogVersion = 1

// LogStatus is the terminal outcome of one apply invocation.
type LogStatus string

const (
	LogSuccess   LogStatus = "success"
	LogConflict  LogStatus = "conflict"
	LogCancelled LogStatus = "cancelled"
	LogSkipped   LogStatus = "skipped"
	LogFailed    LogStatus = "failed"
)

// Flags are the apply flags recorded with each entry.
type Flags struct {
	Yes        bool     `json:"yes"`
	Backup     bool     `json:"backup"`
	Force      bool     `json:"force"`
	Cleanup    []string `json:"cleanup"`
	AllowDirty bool     `json:"allowDirty"`
}

// LogError describes the failure of a failed entry.
type LogError struct {
	Message string `json:"message"`
	Class   string `json:"class,omitempty"`
	Code    string `json:"code,omitempty"`
}

// LogEntry is one line of the apply log.
type LogEntry struct {
	ID        string          `json:"id"`
	Version   int             `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Status    LogStatus       `json:"status"`
	ExitCode  engine.ExitCode `json:"exitCode"`
	Flags     Flags           `json:"flags"`
	Summary   Summary         `json:"summary"`
	Records   []Record        `json:"records"`
	Actions   []string        `json:"actions"`
	Cleanup   *CleanupResult  `json:"cleanup,omitempty"`
	Error     *LogError       `json:"error,omitempty"`
}

func newLogError(err error) *LogError {
	out := &LogError{Message: err.Error()}
	var kerr *engine.KernelError
	if errors.As(err, &kerr) {
		out.Class = string(kerr.Class)
		out.Code = kerr.Code
	}
	return out
}

// EntrySink receives a copy of every appended entry.
type EntrySink interface {
	RecordApply(ctx context.Context, entry LogEntry) error
}

// Log is the append-only JSON-lines apply journal.
//
// Entries are appended straight to disk, outside any workspace transaction,
// so a rolled back apply is still journalled.
type Log struct {
	FS   workspace.FS
	Path string
}

// Append writes entry as one line.
func (l *Log) Append(entry LogEntry) error {
	abs, err := l.FS.Resolve(l.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create apply log directory: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode apply log entry: %w", err)
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open apply log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append apply log entry: %w", err)
	}
	return f.Sync()
}

// Read returns every entry in the log. A missing log is empty.
func (l *Log) Read() ([]LogEntry, error) {
	abs, err := l.FS.Resolve(l.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return []LogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open apply log: %w", err)
	}
	defer f.Close()

	entries := []LogEntry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode apply log line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read apply log: %w", err)
	}
	return entries, nil
}
