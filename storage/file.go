package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File stores the whole State in a single file at path. Every Read decodes
// the file and every Write atomically replaces it through a temp file and
// rename, so an interrupted Write leaves the previous content intact.
type File struct {
	path   string
	codec  Codec
	closed bool
	mu     sync.RWMutex
}

// OpenFile opens the file-backed storage at path, creating parent
// directories and an empty primary file when they do not exist yet.
func OpenFile(path string, codec Codec) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file storage path is required", ErrIO)
	}
	if codec == nil {
		codec = JSONCodec{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}

	return &File{path: path, codec: codec}, nil
}

// Path returns the primary file location.
func (s *File) Path() string {
	return s.path
}

// Codec returns the codec used for the primary file.
func (s *File) Codec() Codec {
	return s.codec
}

func (s *File) Read(_ context.Context) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, s.path, err)
	}
	return s.codec.Unmarshal(data)
}

func (s *File) Write(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	data, err := s.codec.Marshal(state)
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.path, data)
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// WriteFileAtomic replaces path with data via a temp file in the same
// directory followed by a rename. On failure the temp file is removed and
// path is untouched.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	return nil
}
