package preferences

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const preferencesFileName = "preferences.json"

// FileStore persists preferences as a JSON object in dataDir.
type FileStore struct {
	dataDir string
	values  map[string]json.RawMessage
	mutex   sync.RWMutex
}

// NewFileStore creates a file-based store, loading existing values.
func NewFileStore(dataDir string) (*FileStore, error) {
	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileStore{
		dataDir: dataDir,
		values:  make(map[string]json.RawMessage),
	}

	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	return store, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set stores value, which must be valid JSON.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous, existed := s.values[key]
	s.values[key] = append(json.RawMessage(nil), value...)

	if err := s.save(); err != nil {
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (s *FileStore) Del(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)

	if err := s.save(); err != nil {
		s.values[key] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	filePath := filepath.Join(s.dataDir, preferencesFileName)

	// If file doesn't exist, start empty
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// save writes all values to file atomically
func (s *FileStore) save() error {
	jsonData, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temp file first
	tempFile := filepath.Join(s.dataDir, preferencesFileName+".tmp")
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Atomic rename
	finalFile := filepath.Join(s.dataDir, preferencesFileName)
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
