package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const persistenceVersion = "1.0"

// PersistenceFile represents the file structure for JSON persistence
type PersistenceFile struct {
	Version string            `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Values  map[string]string `json:"values"`
}

// FileStore keeps all keys in memory and rewrites a single JSON document on
// every Set. Writes go to a temp file first and are renamed into place.
type FileStore struct {
	values map[string]string
	closed bool
	mu     sync.RWMutex

	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// NewFileStore opens the JSON document at filePath, creating nothing until the
// first Set. If filePath is empty, uses an OS-appropriate tmp directory.
func NewFileStore(filePath string, filePermissions, dirPermissions os.FileMode) (*FileStore, error) {
	if filePath == "" {
		filePath = filepath.Join(os.TempDir(), "quakewatch", "data.json")
	}
	if filePermissions == 0 {
		filePermissions = 0o644
	}
	if dirPermissions == 0 {
		dirPermissions = 0o755
	}

	s := &FileStore{
		values:          make(map[string]string),
		filePath:        filePath,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.filePath
}

// Get retrieves a value by key
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores a value and persists the whole document. On write failure the
// in-memory value is kept.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.values[key] = value
	return s.save()
}

// Close marks the store closed. Every Set is already durable.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// save must be called with s.mu held.
func (s *FileStore) save() error {
	// Create data directory if needed
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data := PersistenceFile{
		Version: persistenceVersion,
		SavedAt: time.Now().UTC(),
		Values:  s.values,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, s.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

func (s *FileStore) load() error {
	// Clean up any stale temp files from previous crashes
	tempPath := s.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	jsonData, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data PersistenceFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if data.Values != nil {
		s.values = data.Values
	}
	return nil
}
