// Package telemetry persists FOTA transfer history to disk, adapted from
// two teacher pieces: sol.Analytics's load-at-start/save-on-change shape
// with a bounded per-subject history, and discovery.Cache's atomic
// tmp-file-then-rename write. Each transfer carries the uuid generation id
// that internal/fota assigns when the transfer starts, the way oriys-nova
// tags its job records; the same id is reported by the debug API's
// /api/fota. Audit log and frame log entries do not carry it.
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"devagent/internal/fota"
)

const maxHistory = 20

// Transfer is one recorded FOTA attempt.
type Transfer struct {
	GenerationID string     `json:"generation_id"`
	Type         string     `json:"type"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Outcome      string     `json:"outcome"` // "in_progress", "completed", "aborted"
	Reason       string     `json:"reason,omitempty"`
	BytesWritten int64      `json:"bytes_written"`
}

// Store tracks the current transfer plus a bounded history of past ones.
type Store struct {
	mu      sync.Mutex
	path    string
	current *Transfer
	history []Transfer
}

// NewStore constructs a Store persisting to dataDir/fota-history.json,
// loading any existing history immediately.
func NewStore(dataDir string) *Store {
	s := &Store{path: filepath.Join(dataDir, "fota-history.json")}
	s.load()
	return s
}

// OnPhaseChange implements fota.Observer: starts tracking a new transfer
// the first time a phase change is observed after Idle.
func (s *Store) OnPhaseChange(st fota.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.GenerationID != st.GenerationID {
		s.current = &Transfer{
			GenerationID: st.GenerationID,
			Type:         st.Type.String(),
			StartedAt:    time.Now(),
			Outcome:      "in_progress",
		}
	}
	s.current.BytesWritten = st.BytesWritten
	s.save()
}

// OnComplete implements fota.Observer.
func (s *Store) OnComplete(st fota.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish(st.BytesWritten, "completed", "")
	s.save()
}

// OnAbort implements fota.Observer.
func (s *Store) OnAbort(reason string, st fota.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish(st.BytesWritten, "aborted", reason)
	s.save()
}

func (s *Store) finish(bytesWritten int64, outcome, reason string) {
	if s.current == nil {
		return
	}
	now := time.Now()
	s.current.EndedAt = &now
	s.current.BytesWritten = bytesWritten
	s.current.Outcome = outcome
	s.current.Reason = reason

	s.history = append(s.history, *s.current)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.current = nil
}

// Current returns the in-progress transfer, if any.
func (s *Store) Current() *Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// History returns the bounded list of past transfers, oldest first.
func (s *Store) History() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("telemetry: read history: %v", err)
		}
		return
	}
	var history []Transfer
	if err := json.Unmarshal(data, &history); err != nil {
		log.Warnf("telemetry: parse history: %v", err)
		return
	}
	s.history = history
}

// save writes history atomically (tmp file + rename), mirroring the
// teacher's discovery.Cache.Save.
func (s *Store) save() {
	data, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		log.Warnf("telemetry: marshal history: %v", err)
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warnf("telemetry: create dir: %v", err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Warnf("telemetry: write tmp history: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Warnf("telemetry: rename history: %v", err)
	}
}

var _ fota.Observer = (*Store)(nil)
