package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// targetFile is the on-disk layout of the stream target file.
type targetFile struct {
	Version int    `toml:"version"`
	Stream  Config `toml:"stream"`
}

// Store persists the delivery target in a TOML file so it survives restarts
// and can be edited while the server runs.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	if path == "" {
		path = "stream.toml"
	}
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the target file. A missing file yields Defaults.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LoadFile(s.path)
}

// Save writes cfg to the target file, creating parent directories.
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(targetFile{Version: 1, Stream: cfg})
	if err != nil {
		return fmt.Errorf("failed to marshal stream config: %w", err)
	}

	// write-then-rename so watchers never observe a partial file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write stream config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace stream config: %w", err)
	}
	return nil
}

// LoadFile parses a target file. It matches the loader signature used by
// config.Watcher.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read stream config: %w", err)
	}

	var f targetFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("failed to parse stream config: %w", err)
	}
	return f.Stream.WithDefaults(), nil
}
