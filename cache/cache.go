// Package cache provides a write-behind decorator for storage.Storage. Reads
// are served from an in-memory buffer once it has been primed; writes replace
// the buffer and reach the wrapped storage only every FlushThreshold writes,
// on Flush, or on Close. Up to FlushThreshold-1 writes are lost if the
// process exits without closing the Cache.
//
// Transaction operations pass through to the wrapped storage when it is
// storage.Transactional. The buffer is flushed before Begin so the rollback
// point includes every earlier write, and discarded after Rollback and
// Restore so stale data never hides the restored State.
package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/storage"
)

// Option configures a Cache.
type Option func(*Cache)

// WithObserver sets the observer receiving cache events.
func WithObserver(o observability.Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// Cache buffers the latest written State in front of another Storage. All
// methods are safe for concurrent use.
type Cache struct {
	inner     storage.Storage
	buffer    storage.State
	primed    bool
	pending   int
	threshold int
	closed    bool
	observer  observability.Observer
	mu        sync.Mutex
}

var _ storage.Transactional = (*Cache)(nil)

// New creates a Cache in front of inner. A nil cfg or non-positive threshold
// selects DefaultFlushThreshold.
func New(inner storage.Storage, cfg *Config, opts ...Option) *Cache {
	threshold := DefaultFlushThreshold
	if cfg != nil && cfg.FlushThreshold > 0 {
		threshold = cfg.FlushThreshold
	}

	c := &Cache{
		inner:     inner,
		threshold: threshold,
		observer:  observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pending returns the number of writes buffered since the last flush.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Read returns the buffered State. The first Read of an unprimed Cache loads
// the wrapped storage into the buffer; later reads never fall through.
func (c *Cache) Read(ctx context.Context) (storage.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, storage.ErrClosed
	}
	if !c.primed {
		state, err := c.inner.Read(ctx)
		if err != nil {
			return nil, err
		}
		c.buffer = state
		c.primed = true
	}
	return c.buffer.Clone(), nil
}

// Write replaces the buffer and flushes once the number of pending writes
// reaches the threshold. On a failed flush the buffer and counter are kept so
// a later Flush or Close can retry.
func (c *Cache) Write(ctx context.Context, state storage.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return storage.ErrClosed
	}
	normalized, err := state.Normalize()
	if err != nil {
		return err
	}
	if normalized == nil {
		normalized = storage.State{}
	}
	c.buffer = normalized
	c.primed = true
	c.pending++

	if c.pending >= c.threshold {
		return c.flush(ctx, "threshold")
	}
	return nil
}

// Flush writes the buffer to the wrapped storage if any writes are pending.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return storage.ErrClosed
	}
	return c.flush(ctx, "explicit")
}

// Close flushes pending writes and closes the wrapped storage. The wrapped
// storage is closed even when the flush fails; both errors are returned.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	flushErr := c.flush(context.Background(), "close")
	closeErr := c.inner.Close()
	c.buffer = nil
	c.primed = false
	return errors.Join(flushErr, closeErr)
}

func (c *Cache) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.transactional()
	if err != nil {
		return err
	}
	if err := c.flush(ctx, "begin"); err != nil {
		return err
	}
	return tx.Begin(ctx)
}

// Commit flushes the transaction's writes before the wrapped storage drops
// its rollback point.
func (c *Cache) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.transactional()
	if err != nil {
		return err
	}
	if err := c.flush(ctx, "commit"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *Cache) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.transactional()
	if err != nil {
		return err
	}
	err = tx.Rollback(ctx)
	if errors.Is(err, storage.ErrNoTransaction) {
		return err
	}
	c.invalidate(ctx, "rollback")
	return err
}

func (c *Cache) Backup(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.transactional()
	if err != nil {
		return err
	}
	if err := c.flush(ctx, "backup"); err != nil {
		return err
	}
	return tx.Backup(ctx, path)
}

func (c *Cache) Restore(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.transactional()
	if err != nil {
		return err
	}
	if err := tx.Restore(ctx, path); err != nil {
		return err
	}
	c.invalidate(ctx, "restore")
	return nil
}

// SupportsTransactions reports whether the wrapped storage serves
// transaction operations.
func (c *Cache) SupportsTransactions() bool {
	_, ok := storage.AsTransactional(c.inner)
	return ok
}

func (c *Cache) transactional() (storage.Transactional, error) {
	if c.closed {
		return nil, storage.ErrClosed
	}
	tx, ok := storage.AsTransactional(c.inner)
	if !ok {
		return nil, storage.ErrNotTransactional
	}
	return tx, nil
}

func (c *Cache) flush(ctx context.Context, reason string) error {
	if c.pending == 0 {
		return nil
	}
	if err := c.inner.Write(ctx, c.buffer); err != nil {
		return err
	}

	c.observer.OnEvent(ctx, observability.NewEvent(EventFlush, observability.LevelVerbose, "cache.flush", map[string]any{
		"reason":  reason,
		"pending": c.pending,
	}))
	c.pending = 0
	return nil
}

func (c *Cache) invalidate(ctx context.Context, reason string) {
	c.observer.OnEvent(ctx, observability.NewEvent(EventInvalidate, observability.LevelVerbose, "cache.invalidate", map[string]any{
		"reason":    reason,
		"discarded": c.pending,
	}))
	c.buffer = nil
	c.primed = false
	c.pending = 0
}
