package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrNotExist is returned by Read for keys that have never been written.
var ErrNotExist = errors.New("storage: key does not exist")

const fileExt = ".json"

// FileStore persists one file per key under a base directory. Several
// processes may share the directory; writes are atomic renames so readers never
// observe a half-written collection, but concurrent writers still race.
type FileStore struct {
	baseDir string

	mu      sync.Mutex
	written map[string]os.FileInfo
}

// NewFileStore ensures the base directory exists and returns a handle.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, written: make(map[string]os.FileInfo)}, nil
}

// Get reads the value stored under key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set writes value under key through a temp file and rename.
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("close %s: %w", key, err)
	}
	// recorded before the rename so the watcher can never see the file first
	info, err := os.Stat(tmpName)
	if err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("stat %s: %w", key, err)
	}
	s.mu.Lock()
	s.written[key] = info
	s.mu.Unlock()
	if err := os.Rename(tmpName, s.resolve(key)); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// Watch reports keys written by other processes until ctx is done. A key
// whose file is still the one this store last wrote is not reported.
func (s *FileStore) Watch(ctx context.Context, fn func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	if err := watcher.Add(s.baseDir); err != nil {
		return fmt.Errorf("watch %s: %w", s.baseDir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if key, ok := s.keyFor(event.Name); ok && !s.ownWrite(key, event.Name) {
				fn(key)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", s.baseDir, err)
		}
	}
}

// ownWrite reports whether path still holds the file written by Set for key.
// Every Set renames a fresh file into place, so a foreign write replaces it.
func (s *FileStore) ownWrite(key, path string) bool {
	s.mu.Lock()
	mine, ok := s.written[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(mine, current) && mine.ModTime().Equal(current.ModTime()) && mine.Size() == current.Size()
}

// Path exposes the file backing key (useful for debugging).
func (s *FileStore) Path(key string) string {
	return s.resolve(key)
}

func (s *FileStore) resolve(key string) string {
	return filepath.Join(s.baseDir, url.PathEscape(key)+fileExt)
}

func (s *FileStore) keyFor(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}
