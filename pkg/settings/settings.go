// Package settings persists the core's own state between restarts: the
// storage settings chosen during first-run setup and the CoreState record of
// users whose sessions were live at the last clean shutdown.
//
// Everything lives in one YAML document. Writes go to a temporary file in the
// same directory which is then renamed over the original, so a crash never
// leaves a half-written file behind.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/marmos91/dittochat/pkg/storage"
	"gopkg.in/yaml.v3"
)

// CoreStateVersion is the only CoreState format this build reads and writes.
const CoreStateVersion = 1

// ErrUnsupportedVersion is returned when the stored CoreState has an unknown version tag.
var ErrUnsupportedVersion = errors.New("unsupported core state version")

// CoreState records which users had a live session at the last shutdown.
type CoreState struct {
	Version        int              `yaml:"core_state_version"`
	ActiveSessions []storage.UserID `yaml:"active_sessions"`
}

// document is the on-disk layout.
type document struct {
	Storage   map[string]any `yaml:"storage,omitempty"`
	CoreState *CoreState     `yaml:"core_state,omitempty"`
}

// Store is a YAML-file backed settings store. A missing file reads as empty.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads the document at path. The file does not need to exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load rereads the file, discarding unsaved changes.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.doc = document{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings %s: %w", s.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	s.doc = doc
	return nil
}

// StorageSettings returns a copy of the persisted backend settings, or nil
// when setup has never completed.
func (s *Store) StorageSettings() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.doc.Storage) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.doc.Storage))
	for k, v := range s.doc.Storage {
		out[k] = v
	}
	return out
}

// SetStorageSettings replaces the backend settings and writes the file.
func (s *Store) SetStorageSettings(settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Storage = make(map[string]any, len(settings))
	for k, v := range settings {
		s.doc.Storage[k] = v
	}
	return s.saveLocked()
}

// CoreState returns the persisted state. A file without a state section
// yields an empty CoreState at the current version.
func (s *Store) CoreState() (CoreState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.CoreState == nil {
		return CoreState{Version: CoreStateVersion}, nil
	}
	state := *s.doc.CoreState
	if state.Version != CoreStateVersion {
		return CoreState{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	state.ActiveSessions = dedup(state.ActiveSessions)
	return state, nil
}

// SetCoreState records users as the active set and writes the file.
func (s *Store) SetCoreState(users []storage.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.CoreState = &CoreState{
		Version:        CoreStateVersion,
		ActiveSessions: dedup(users),
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temporary settings file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	// Storage settings may carry credentials.
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// dedup returns the valid ids of users in ascending order without repeats.
func dedup(users []storage.UserID) []storage.UserID {
	seen := make(map[storage.UserID]struct{}, len(users))
	out := make([]storage.UserID, 0, len(users))
	for _, u := range users {
		if !u.IsValid() {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
