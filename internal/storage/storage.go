// Package storage provides file-based JSON storage. A key is a list of path
// segments under the base directory; each key is one JSON document on disk.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid storage key")
)

const ext = ".json"

// Storage provides file-based JSON storage. Writes to one key are
// serialised by a FileLock, so several processes can share a directory.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a Storage rooted at basePath. The directory is created on the
// first write.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// BasePath returns the storage root directory.
func (s *Storage) BasePath() string {
	return s.basePath
}

// resolve maps a key to its directory path below the base. Segments must be
// non-empty and must not contain separators or dot-only names, so a key
// taken from a request can never leave the base directory.
func (s *Storage) resolve(key []string) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	parts := make([]string, 0, len(key)+1)
	parts = append(parts, s.basePath)
	for _, seg := range key {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) || strings.ContainsRune(seg, 0) {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, seg)
		}
		parts = append(parts, seg)
	}
	return filepath.Join(parts...), nil
}

func (s *Storage) file(key []string) (string, error) {
	p, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	return p + ext, nil
}

// Get decodes the document at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	data, err := s.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// GetRaw returns the stored document without decoding it.
func (s *Storage) GetRaw(ctx context.Context, key []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.file(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Exists reports whether a document is stored at key.
func (s *Storage) Exists(ctx context.Context, key []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.file(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Put stores v at key. The write goes to a temp file that is renamed over
// the document, so readers see the old or the new version, never a partial
// one.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.file(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Delete removes the document at key. A missing document is not an error.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.file(key)
	if err != nil {
		return err
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Scan calls fn with the raw document of every key directly below prefix,
// in key order. Subdirectories, temp files and unreadable files are
// skipped; a missing prefix scans nothing.
func (s *Storage) Scan(ctx context.Context, prefix []string, fn func(key string, data json.RawMessage) error) error {
	dir, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ext), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// lockFor returns the shared lock of a document path.
func (s *Storage) lockFor(path string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}
	return lock
}
