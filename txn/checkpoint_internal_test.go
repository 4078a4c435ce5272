package txn

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tailored-agentic-units/docstore/storage"
)

func TestCopyFile_FailureMidCopyLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.Mkdir(src, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	out := t.TempDir()
	dst := filepath.Join(out, "db.json.bak")

	// Opening a directory succeeds; reading from it fails inside io.Copy.
	err := copyFile(src, dst)
	if !errors.Is(err, storage.ErrIO) {
		t.Fatalf("copyFile() error = %v, want %v", err, storage.ErrIO)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d files in destination dir, want 0 (first: %s)", len(entries), entries[0].Name())
	}
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()

	err := copyFile(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("copyFile() error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestCopyFile_ReplacesDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(dst, []byte("old content"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "new" {
		t.Errorf("dst = %q, want %q", got, "new")
	}
}

func TestConfig_MergeAndDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ShadowSuffix != ".bak" {
		t.Errorf("got ShadowSuffix %q, want %q", cfg.ShadowSuffix, ".bak")
	}
	if cfg.Recovery != RecoveryRollback {
		t.Errorf("got Recovery %q, want %q", cfg.Recovery, RecoveryRollback)
	}

	cfg.Merge(&Config{Recovery: RecoveryKeep})
	if cfg.Recovery != RecoveryKeep {
		t.Errorf("got Recovery %q, want %q", cfg.Recovery, RecoveryKeep)
	}
	if cfg.ShadowSuffix != ".bak" {
		t.Errorf("got ShadowSuffix %q, want %q (preserved)", cfg.ShadowSuffix, ".bak")
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate() error = %v", err)
	}
}
