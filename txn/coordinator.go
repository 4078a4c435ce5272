// Package txn adds transactions and backup/restore to any storage.Storage
// without a transaction log. While a transaction is open the Coordinator
// holds one rollback point: a deep-copied snapshot of State for generic
// backends, or a shadow copy of the primary file for storage.FileBacked
// backends. Transactions do not nest.
//
//	c, err := txn.New(ctx, backend, &cfg)
//	err = c.Begin(ctx)
//	err = c.Write(ctx, next)
//	err = c.Rollback(ctx) // backend holds the State from before Begin
package txn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/storage"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver sets the observer receiving transaction events.
func WithObserver(o observability.Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithCodec sets the codec used to serialize backups of backends that are
// not file backed. Defaults to storage.JSONCodec.
func WithCodec(codec storage.Codec) Option {
	return func(c *Coordinator) { c.codec = codec }
}

// Coordinator implements storage.Transactional on top of a plain Storage.
type Coordinator struct {
	backend  storage.Storage
	file     storage.FileBacked
	shadow   string
	codec    storage.Codec
	observer observability.Observer
	point    checkpoint
	txID     string
	mu       sync.Mutex
}

var _ storage.Transactional = (*Coordinator)(nil)

// New wraps backend in a Coordinator. For file-backed storage a shadow file
// left behind by an interrupted transaction is handled according to
// cfg.Recovery before New returns.
func New(ctx context.Context, backend storage.Storage, cfg *Config, opts ...Option) (*Coordinator, error) {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}
	if err := merged.validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		backend:  backend,
		codec:    storage.JSONCodec{},
		observer: observability.NoOpObserver{},
	}
	if fb, ok := backend.(storage.FileBacked); ok {
		c.file = fb
		c.shadow = fb.Path() + merged.ShadowSuffix
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.recover(ctx, merged.Recovery); err != nil {
		return nil, err
	}
	return c, nil
}

// InTransaction reports whether a transaction is open.
func (c *Coordinator) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.point != nil
}

// TxID returns the identifier of the open transaction, or "" when none is
// open.
func (c *Coordinator) TxID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txID
}

// ShadowPath returns the shadow file location, or "" for backends that use
// in-memory snapshots.
func (c *Coordinator) ShadowPath() string {
	return c.shadow
}

func (c *Coordinator) Read(ctx context.Context) (storage.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Read(ctx)
}

func (c *Coordinator) Write(ctx context.Context, state storage.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Write(ctx, state)
}

// Close closes the backend. An open in-memory snapshot is dropped; an open
// shadow file stays on disk for recovery by the next Coordinator.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.point != nil {
		c.emit(context.Background(), EventCloseOpen, observability.LevelWarning, "txn.Close", map[string]any{
			"tx_id":      c.txID,
			"checkpoint": c.point.kind(),
		})
		if _, ok := c.point.(*snapshotCheckpoint); ok {
			c.point = nil
			c.txID = ""
		}
	}
	return c.backend.Close()
}

func (c *Coordinator) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.point != nil {
		return fmt.Errorf("%w: %s", storage.ErrTransactionOpen, c.txID)
	}

	point, err := c.capture(ctx)
	if err != nil {
		return err
	}
	c.point = point
	c.txID = uuid.Must(uuid.NewV7()).String()

	c.emit(ctx, EventBegin, observability.LevelInfo, "txn.Begin", map[string]any{
		"tx_id":      c.txID,
		"checkpoint": point.kind(),
	})
	return nil
}

func (c *Coordinator) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.point == nil {
		return storage.ErrNoTransaction
	}
	if err := c.point.discard(); err != nil {
		return err
	}

	c.emit(ctx, EventCommit, observability.LevelInfo, "txn.Commit", map[string]any{"tx_id": c.txID})
	c.point = nil
	c.txID = ""
	return nil
}

func (c *Coordinator) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.point == nil {
		return storage.ErrNoTransaction
	}
	if err := c.point.restore(ctx); err != nil {
		c.emit(ctx, EventError, observability.LevelError, "txn.Rollback", map[string]any{
			"tx_id": c.txID,
			"error": err.Error(),
		})
		return err
	}
	if err := c.point.discard(); err != nil {
		return err
	}

	c.emit(ctx, EventRollback, observability.LevelInfo, "txn.Rollback", map[string]any{"tx_id": c.txID})
	c.point = nil
	c.txID = ""
	return nil
}

// Backup writes the current State to path. File-backed storage is copied
// byte for byte; other backends are serialized with the configured codec.
func (c *Coordinator) Backup(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPath(path); err != nil {
		return err
	}
	state, err := c.backend.Read(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: nothing to back up", storage.ErrIO)
	}

	if c.file != nil {
		if err := copyFile(c.file.Path(), path); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %v", storage.ErrIO, err)
			}
			return err
		}
	} else {
		data, err := c.codec.Marshal(state)
		if err != nil {
			return err
		}
		if err := storage.WriteFileAtomic(path, data); err != nil {
			return err
		}
	}

	c.emit(ctx, EventBackup, observability.LevelInfo, "txn.Backup", map[string]any{
		"path":   path,
		"tables": len(state),
	})
	return nil
}

// Restore replaces the current State with the one stored at path.
func (c *Coordinator) Restore(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPath(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", storage.ErrIO, path, err)
	}

	state, err := c.backupCodec().Unmarshal(data)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: empty backup %s", storage.ErrMalformedState, path)
	}
	if err := c.backend.Write(ctx, state); err != nil {
		return err
	}

	c.emit(ctx, EventRestore, observability.LevelInfo, "txn.Restore", map[string]any{
		"path":   path,
		"tables": len(state),
	})
	return nil
}

// checkPath rejects backup locations that collide with the shadow file. A
// backup left there would be recovered as an interrupted transaction.
func (c *Coordinator) checkPath(path string) error {
	if c.shadow != "" && samePath(path, c.shadow) {
		return fmt.Errorf("%w: %s is reserved for the transaction shadow file", storage.ErrIO, path)
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func (c *Coordinator) capture(ctx context.Context) (checkpoint, error) {
	if c.file != nil {
		if err := copyFile(c.file.Path(), c.shadow); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: primary file unreadable: %v", storage.ErrIO, err)
			}
			return nil, err
		}
		return &shadowCheckpoint{primary: c.file.Path(), shadow: c.shadow}, nil
	}

	state, err := c.backend.Read(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = storage.State{}
	}
	return &snapshotCheckpoint{backend: c.backend, state: state.Clone()}, nil
}

func (c *Coordinator) backupCodec() storage.Codec {
	if c.file != nil {
		return c.file.Codec()
	}
	return c.codec
}

func (c *Coordinator) recover(ctx context.Context, policy string) error {
	if c.file == nil {
		return nil
	}
	if _, err := os.Stat(c.shadow); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", storage.ErrIO, c.shadow, err)
	}

	point := &shadowCheckpoint{primary: c.file.Path(), shadow: c.shadow}

	if policy == RecoveryKeep {
		c.point = point
		c.txID = uuid.Must(uuid.NewV7()).String()
		c.emit(ctx, EventRecover, observability.LevelWarning, "txn.New", map[string]any{
			"policy": policy,
			"tx_id":  c.txID,
			"shadow": c.shadow,
		})
		return nil
	}

	if err := point.restore(ctx); err != nil {
		return fmt.Errorf("recover from shadow: %w", err)
	}
	if err := point.discard(); err != nil {
		return fmt.Errorf("recover from shadow: %w", err)
	}
	c.emit(ctx, EventRecover, observability.LevelWarning, "txn.New", map[string]any{
		"policy": policy,
		"shadow": c.shadow,
	})
	return nil
}

func (c *Coordinator) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, data map[string]any) {
	c.observer.OnEvent(ctx, observability.NewEvent(typ, level, source, data))
}
