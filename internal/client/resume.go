package client

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ResumeState records how far playback got for one text, so an
// interrupted streaming run can pick up mid-session instead of starting
// over.
type ResumeState struct {
	SessionID       string    `json:"session_id"`
	TextKey         string    `json:"text_key"`
	LastPlayedIndex int       `json:"last_played_index"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ResumeStore persists ResumeState as a single JSON file. Writes go
// through a temp file and rename so a crash never leaves a torn state.
type ResumeStore struct {
	mu   sync.Mutex
	path string
}

func NewResumeStore(path string) *ResumeStore {
	return &ResumeStore{path: path}
}

// Load returns the stored state, reporting false when none exists.
func (s *ResumeStore) Load() (ResumeState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ResumeState{}, false, nil
	}
	if err != nil {
		return ResumeState{}, false, err
	}
	var state ResumeState
	if err := json.Unmarshal(raw, &state); err != nil {
		// A corrupt file is treated as absent; resuming is best-effort.
		return ResumeState{}, false, nil
	}
	if state.SessionID == "" || state.TextKey == "" {
		return ResumeState{}, false, nil
	}
	return state, true, nil
}

// Save replaces the stored state.
func (s *ResumeStore) Save(state ResumeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the stored state. Clearing an absent state is fine.
func (s *ResumeStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
