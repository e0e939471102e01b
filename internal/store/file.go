package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore implements Store as one JSON file per document under a
// directory. Writes go to a temporary file that is renamed over the old one,
// so a failed write never leaves a half-written document behind.
type FileStore struct {
	documentStore
	dir string
}

// NewFileStore creates a file-backed store rooted at dir. The directory is
// created on first write.
func NewFileStore(dir string) *FileStore {
	s := &FileStore{dir: dir}
	s.documentStore = documentStore{blobs: s}
	return s
}

// Path returns the file backing the named document.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) put(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	path := s.Path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
