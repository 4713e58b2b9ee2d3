package rtcstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileStore keeps the record in a file. The file is locked for as long as
// the store is open, so two emulated boards cannot share one state file.
type FileStore struct {
	path string
	lock *flock.Flock
}

// OpenFile opens (without creating) the state file at path and takes its
// lock. It fails with ErrLocked if another process holds it.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rtcstore: %w", err)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("rtcstore: lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &FileStore{path: path, lock: lock}, nil
}

// Path returns the state file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (Record, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("rtcstore: %w", err)
	}
	return Unmarshal(b)
}

// Save replaces the file atomically.
func (s *FileStore) Save(r Record) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, r.Marshal(), 0o644); err != nil {
		return fmt.Errorf("rtcstore: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rtcstore: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rtcstore: %w", err)
	}
	return nil
}

// Close releases the lock.
func (s *FileStore) Close() error {
	return s.lock.Unlock()
}
