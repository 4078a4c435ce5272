package txn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tailored-agentic-units/docstore/storage"
)

// checkpoint is the rollback point held while a transaction is open.
type checkpoint interface {
	kind() string
	restore(ctx context.Context) error
	discard() error
}

// snapshotCheckpoint keeps a deep copy of State in memory and restores it
// through the backend's Write.
type snapshotCheckpoint struct {
	backend storage.Storage
	state   storage.State
}

func (c *snapshotCheckpoint) kind() string { return "snapshot" }

func (c *snapshotCheckpoint) restore(ctx context.Context) error {
	return c.backend.Write(ctx, c.state.Clone())
}

func (c *snapshotCheckpoint) discard() error {
	c.state = nil
	return nil
}

// shadowCheckpoint is a byte copy of the primary file at a derived path.
type shadowCheckpoint struct {
	primary string
	shadow  string
}

func (c *shadowCheckpoint) kind() string { return "shadow" }

func (c *shadowCheckpoint) restore(_ context.Context) error {
	return copyFile(c.shadow, c.primary)
}

func (c *shadowCheckpoint) discard() error {
	if err := os.Remove(c.shadow); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove shadow %s: %v", storage.ErrIO, c.shadow, err)
	}
	return nil
}

// copyFile replaces dst with the bytes of src. The copy is staged in a temp
// file next to dst and renamed into place, so a failure at any step leaves
// dst untouched and no partial artifact behind.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, src)
		}
		return fmt.Errorf("%w: %s: %v", storage.ErrIO, src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", storage.ErrIO, dst, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: copy %s to %s: %v", storage.ErrIO, src, dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", storage.ErrIO, dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", storage.ErrIO, dst, err)
	}
	return nil
}
