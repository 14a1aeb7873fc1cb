// Package sessionstore persists browser authentication state between runs.
//
// The on-disk format is the browser engine's storage-state JSON: a cookie list
// plus per-origin localStorage entries. Loads are all-or-nothing; there is no
// merging or versioning.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// ErrNotFound is returned by Load when no state has been saved yet.
var ErrNotFound = errors.New("no saved session state")

// Cookie is one persisted cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// NameValue is a single storage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Origin holds the localStorage entries of one origin.
type Origin struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// State is the serialized authentication material of a browsing context.
type State struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Store persists a single State.
type Store interface {
	Save(state *State) error
	Load() (*State, error)
	Exists() bool
	Path() string
}

var slotName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileStore implements Store using a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path. The file is not touched
// until the first Save or Load.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Named returns a store for a named slot next to the default file.
// An empty name returns the receiver.
func (s *FileStore) Named(name string) (*FileStore, error) {
	if name == "" {
		return s, nil
	}
	if !slotName.MatchString(name) {
		return nil, fmt.Errorf("invalid session name %q: use letters, digits, '-' or '_'", name)
	}
	return NewFileStore(filepath.Join(filepath.Dir(s.path), name+".json")), nil
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether a state file is present.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes state atomically (temp file + rename).
func (s *FileStore) Save(state *State) error {
	if state == nil {
		return fmt.Errorf("cannot save nil session state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(normalize(state)); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Load reads the saved state. It returns ErrNotFound when nothing was saved
// and a decode error when the file is unreadable.
func (s *FileStore) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", s.path, err)
	}

	return normalize(&state), nil
}

// normalize replaces nil slices so the JSON form always carries both keys.
func normalize(state *State) *State {
	out := *state
	if out.Cookies == nil {
		out.Cookies = []Cookie{}
	}
	if out.Origins == nil {
		out.Origins = []Origin{}
	}
	return &out
}
