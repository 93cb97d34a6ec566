// Package audit is a day-rotating JSON-line event log, adapted from the
// teacher's logs.Writer: the same current.log-symlink-plus-timestamped-file
// rotation and retention-cleanup shape, stripped of the ANSI/SOL
// screen-scraping machinery that has no counterpart in a JSON wire protocol.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"devagent/internal/collab"
)

// Entry is one audit record (SPEC_FULL.md §9.2). Direction is "in" or "out".
type Entry struct {
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Cmd       string    `json:"cmd,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Writer appends Entry records as newline-delimited JSON to a day-named
// file, rotating at midnight and pruning files older than retentionDays.
type Writer struct {
	basePath      string
	retentionDays int
	enabled       bool
	clock         collab.Clock

	mu      sync.Mutex
	day     string
	file    *os.File
}

// NewWriter constructs a Writer. When enabled is false, Log and LogFrame are
// no-ops (spec.md's log_enabled gate, SPEC_FULL.md §9.2).
func NewWriter(basePath string, retentionDays int, enabled bool, clock collab.Clock) *Writer {
	if clock == nil {
		clock = collab.SystemClock{}
	}
	return &Writer{basePath: basePath, retentionDays: retentionDays, enabled: enabled, clock: clock}
}

// Log appends one entry, rotating to a new day-file if needed.
func (w *Writer) Log(e Entry) {
	if !w.enabled {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.currentFile()
	if err != nil {
		log.Warnf("audit: %v", err)
		return
	}

	line, err := json.Marshal(e)
	if err != nil {
		log.Warnf("audit: marshal entry: %v", err)
		return
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		log.Warnf("audit: write entry: %v", err)
	}
}

// LogFrame is a convenience wrapper logging a protocol frame in either
// direction (SPEC_FULL.md §9.2).
func (w *Writer) LogFrame(direction string, msg any) {
	cmd := ""
	if withCmd, ok := msg.(interface{ Cmd() string }); ok {
		cmd = withCmd.Cmd()
	}
	w.Log(Entry{Time: w.clock.Now(), Direction: direction, Cmd: cmd, Detail: fmt.Sprintf("%v", msg)})
}

func (w *Writer) currentFile() (*os.File, error) {
	day := w.clock.Now().Format("2006-01-02")
	if w.file != nil && w.day == day {
		return w.file, nil
	}
	if w.file != nil {
		w.file.Close()
	}

	if err := os.MkdirAll(w.basePath, 0755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}

	path := filepath.Join(w.basePath, day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	symlinkPath := filepath.Join(w.basePath, "current.jsonl")
	os.Remove(symlinkPath)
	os.Symlink(filepath.Base(path), symlinkPath)

	w.file = f
	w.day = day
	return f, nil
}

// Cleanup removes day-files older than retentionDays.
func (w *Writer) Cleanup() {
	if w.retentionDays <= 0 {
		return
	}
	cutoff := w.clock.Now().AddDate(0, 0, -w.retentionDays)

	entries, err := os.ReadDir(w.basePath)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" || e.Name() == "current.jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(w.basePath, e.Name())
			if err := os.Remove(path); err == nil {
				log.Infof("audit: pruned %s", path)
			}
		}
	}
}

// Close flushes and closes the current file.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}
