package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tailored-agentic-units/docstore/storage"
)

func TestDefaultConfig(t *testing.T) {
	cfg := storage.DefaultConfig()

	if cfg.Backend != storage.BackendFile {
		t.Errorf("got Backend %q, want %q", cfg.Backend, storage.BackendFile)
	}
	if cfg.Format != storage.FormatJSON {
		t.Errorf("got Format %q, want %q", cfg.Format, storage.FormatJSON)
	}
	if cfg.Path != "" {
		t.Errorf("got Path %q, want empty string", cfg.Path)
	}
}

func TestConfig_Merge(t *testing.T) {
	cfg := storage.DefaultConfig()

	cfg.Merge(&storage.Config{Backend: "bolt", Path: "/data/db.bolt"})

	if cfg.Backend != "bolt" {
		t.Errorf("got Backend %q, want %q", cfg.Backend, "bolt")
	}
	if cfg.Path != "/data/db.bolt" {
		t.Errorf("got Path %q, want %q", cfg.Path, "/data/db.bolt")
	}
	if cfg.Format != storage.FormatJSON {
		t.Errorf("got Format %q, want %q (preserved)", cfg.Format, storage.FormatJSON)
	}
}

func TestNew_Backends(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  storage.Config
	}{
		{"file", storage.Config{Backend: "file", Path: filepath.Join(dir, "db.json")}},
		{"file default backend", storage.Config{Path: filepath.Join(dir, "default.json")}},
		{"file proto", storage.Config{Backend: "file", Format: "proto", Path: filepath.Join(dir, "db.pb")}},
		{"memory", storage.Config{Backend: "memory"}},
		{"bolt", storage.Config{Backend: "bolt", Path: filepath.Join(dir, "db.bolt")}},
		{"sqlite", storage.Config{Backend: "sqlite", Path: filepath.Join(dir, "db.sqlite")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := storage.New(&tt.cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer s.Close()

			if s == nil {
				t.Fatal("New() returned nil storage")
			}
		})
	}
}

func TestNew_FileCreatesPrimary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.json")

	s, err := storage.New(&storage.Config{Backend: "file", Path: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("primary file not created: %v", err)
	}
	fb, ok := s.(storage.FileBacked)
	if !ok {
		t.Fatal("file storage does not implement FileBacked")
	}
	if fb.Path() != path {
		t.Errorf("Path() = %q, want %q", fb.Path(), path)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  storage.Config
	}{
		{"unknown backend", storage.Config{Backend: "tape"}},
		{"unknown format", storage.Config{Backend: "file", Format: "xml", Path: "x"}},
		{"file without path", storage.Config{Backend: "file"}},
		{"remote", storage.Config{Backend: "remote", Path: "http://localhost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := storage.New(&tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestNew_FileWithoutPath_IsIOFailure(t *testing.T) {
	_, err := storage.New(&storage.Config{Backend: "file"})
	if !errors.Is(err, storage.ErrIO) {
		t.Errorf("New() error = %v, want %v", err, storage.ErrIO)
	}
}
