package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings keys shared with the engine.
const (
	KeyOutputDriver  = "outputDriverId"
	KeyChannelOffset = "channelOffset"
)

// RecentKey returns the settings key of the i-th recently used list file.
func RecentKey(i int) string {
	return fmt.Sprintf("recentlyUsedPath%d", i)
}

// Store is the key/value settings boundary. Set only changes memory;
// Flush makes it durable.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Flush() error
}

// FileStore keeps settings as a flat JSON object on disk.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
	dirty  bool
}

// DefaultSettingsPath returns the per-user settings location.
func DefaultSettingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "clipdeck", "settings.json"), nil
}

// OpenFileStore loads settings from path. A missing file yields an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultSettingsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	s := &FileStore{path: path, values: map[string]string{}}

	bt, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(bt, &s.values); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value; an empty value deletes the key.
func (s *FileStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			s.dirty = true
		}
		return
	}
	if s.values[key] != value {
		s.values[key] = value
		s.dirty = true
	}
}

// Flush writes pending changes.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	bt, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, bt, 0o600); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// MemoryStore is a Store without persistence.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	flushes int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == "" {
		delete(m.values, key)
		return
	}
	m.values[key] = value
}

func (m *MemoryStore) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

// Flushes reports how many times Flush was called.
func (m *MemoryStore) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
