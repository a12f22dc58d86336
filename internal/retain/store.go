package retain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Store loads and saves the retained record. Load's second result is false
// on a cold boot, meaning no usable record exists.
type Store interface {
	Load() (Record, bool, error)
	Save(Record) error
	Clear() error
}

// FileStore keeps the record in a single small file. Saves go through a
// temp file and rename, so a power loss mid-write leaves either the old
// record or the new one, never a torn mix.
type FileStore struct {
	Path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the record. A missing, truncated, or corrupt file is a cold
// boot, not an error; only a real I/O failure is reported.
func (s *FileStore) Load() (Record, bool, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read retained record: %w", err)
	}
	rec, ok := Unmarshal(data)
	return rec, ok, nil
}

// Save writes the record atomically.
func (s *FileStore) Save(r Record) error {
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, Marshal(r), 0o600); err != nil {
		return fmt.Errorf("write retained record: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("commit retained record: %w", err)
	}
	return nil
}

// Clear removes the record. Clearing an absent record is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear retained record: %w", err)
	}
	return nil
}
