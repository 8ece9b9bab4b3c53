// Package state persists the small amount of instrument state that must survive a
// daemon restart: the config id handed out by CONFIG and the last completed run.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

const FileName = "instrument_state.yaml"

type InstrumentState struct {
	ConfigID          int       `yaml:"config_id"`
	ConfigName        string    `yaml:"config_name"`
	LastMultrunNumber int       `yaml:"last_multrun_number,omitempty"`
	LastFilename      string    `yaml:"last_filename,omitempty"`
	UpdatedAt         time.Time `yaml:"updated_at"`
}

type Store struct {
	mu       sync.Mutex
	path     string
	state    InstrumentState
	recovery string
}

// Open loads the state file under dir. A missing file yields zero state; an unreadable
// one is quarantined and replaced from its backup when possible.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s := &Store{path: filepath.Join(dir, FileName)}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := yamlv3.Unmarshal(data, &s.state); err != nil {
		if rerr := s.recoverCorrupt(dir, err); rerr != nil {
			return nil, rerr
		}
	}
	return s, nil
}

// Recovery describes what Open did with a corrupt state file, or "" if nothing.
func (s *Store) Recovery() string {
	return s.recovery
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Snapshot() InstrumentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IncConfigID bumps the config id, records name and persists. The in-memory state is
// left unchanged when the write fails.
func (s *Store) IncConfigID(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.ConfigID++
	next.ConfigName = name
	next.UpdatedAt = time.Now().UTC()
	if err := AtomicWrite(s.path, next); err != nil {
		return 0, fmt.Errorf("save config id: %w", err)
	}
	s.state = next
	return next.ConfigID, nil
}

// RecordRun stores the multrun number and primary filename of the last completed run.
func (s *Store) RecordRun(multrunNumber int, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.LastMultrunNumber = multrunNumber
	next.LastFilename = filename
	next.UpdatedAt = time.Now().UTC()
	if err := AtomicWrite(s.path, next); err != nil {
		return fmt.Errorf("save last run: %w", err)
	}
	s.state = next
	return nil
}
