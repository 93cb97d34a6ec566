package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devagent/internal/collab"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time        { return c.t }
func (c fixedClock) Sleep(d time.Duration) {}

type cmdMsg struct{ cmd string }

func (m cmdMsg) Cmd() string { return m.cmd }

func TestLogWritesJSONLine(t *testing.T) {
	dir := t.TempDir()
	clock := fixedClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	w := NewWriter(dir, 14, true, clock)
	defer w.Close()

	w.Log(Entry{Time: clock.Now(), Direction: "out", Cmd: "HTBM", Detail: "{}"})

	data, err := os.ReadFile(filepath.Join(dir, "2026-01-02.jsonl"))
	if err != nil {
		t.Fatalf("expected a day-named log file: %v", err)
	}
	if !strings.Contains(string(data), `"cmd":"HTBM"`) {
		t.Fatalf("expected cmd field in log line, got %s", data)
	}
}

func TestLogDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 14, false, fixedClock{t: time.Now()})
	w.Log(Entry{Direction: "out"})

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files written when disabled, found %v", entries)
	}
}

func TestLogFrameExtractsCmd(t *testing.T) {
	dir := t.TempDir()
	clock := fixedClock{t: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	w := NewWriter(dir, 14, true, clock)
	defer w.Close()

	w.LogFrame("in", cmdMsg{cmd: "OTA"})

	data, _ := os.ReadFile(filepath.Join(dir, "2026-01-02.jsonl"))
	if !strings.Contains(string(data), `"cmd":"OTA"`) {
		t.Fatalf("expected extracted cmd in log line, got %s", data)
	}
}

func TestCurrentFileRotatesOnNewDay(t *testing.T) {
	dir := t.TempDir()
	clock := &mutableClock{t: time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)}
	w := NewWriter(dir, 14, true, clock)
	defer w.Close()

	w.Log(Entry{Direction: "out"})
	clock.t = time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)
	w.Log(Entry{Direction: "out"})

	if _, err := os.Stat(filepath.Join(dir, "2026-01-01.jsonl")); err != nil {
		t.Fatalf("expected day-1 file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2026-01-02.jsonl")); err != nil {
		t.Fatalf("expected day-2 file to exist: %v", err)
	}
}

func TestCleanupPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "2020-01-01.jsonl")
	if err := os.WriteFile(old, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	oldTime := time.Now().AddDate(0, 0, -100)
	os.Chtimes(old, oldTime, oldTime)

	w := NewWriter(dir, 14, true, fixedClock{t: time.Now()})
	w.Cleanup()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected the old log file to be pruned")
	}
}

type mutableClock struct{ t time.Time }

func (c *mutableClock) Now() time.Time        { return c.t }
func (c *mutableClock) Sleep(d time.Duration) {}

var _ collab.Clock = (*mutableClock)(nil)
