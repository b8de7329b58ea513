package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
)

const lockFileName = ".lock"

// FileStore persists each entry as a file in a directory, so that cached
// collections survive process restarts. Writes go to a temporary file that
// is renamed into place. A lock file in the directory serializes access from
// several processes sharing it; mu does the same within this process.
type FileStore struct {
	dir           string
	mu            sync.RWMutex
	lock          *flock.Flock
	maxEntryBytes int
	closed        atomic.Bool
}

// NewFileStore creates the directory if needed and returns a store rooted at dir.
// maxEntryBytes of 0 selects DefaultMaxEntryBytes; a negative value disables
// the limit.
func NewFileStore(dir string, maxEntryBytes int) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if maxEntryBytes == 0 {
		maxEntryBytes = DefaultMaxEntryBytes
	}

	return &FileStore{
		dir:           dir,
		lock:          flock.New(filepath.Join(dir, lockFileName)),
		maxEntryBytes: maxEntryBytes,
	}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// path maps key to a file name that cannot escape the directory.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

// GetItem implements Store.
func (s *FileStore) GetItem(_ context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", ErrStoreClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.lock.RLock(); err != nil {
		return "", fmt.Errorf("acquire read lock: %w", err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("read cache file: %w", err)
	}
	return string(data), nil
}

// SetItem implements Store.
func (s *FileStore) SetItem(_ context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := checkQuota(key, value, s.maxEntryBytes); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	defer s.lock.Unlock()

	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.WriteString(value)
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// RemoveItem implements Store. Removing an absent key is not an error.
func (s *FileStore) RemoveItem(_ context.Context, key string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// Close releases the lock file handle. Entries stay on disk.
func (s *FileStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.lock.Close()
}
