package storage

import (
	"context"
	"time"

	"github.com/tailored-agentic-units/docstore/observability"
)

// Event types emitted by Observed.
const (
	EventRead  observability.EventType = "storage.read"
	EventWrite observability.EventType = "storage.write"
	EventError observability.EventType = "storage.error"
)

// Observed reports every operation on the wrapped Storage to an Observer.
// Transaction operations are forwarded when the wrapped Storage serves them.
type Observed struct {
	inner    Storage
	observer observability.Observer
}

var _ Transactional = (*Observed)(nil)

// Observe wraps inner so that each operation emits an event to observer.
func Observe(inner Storage, observer observability.Observer) *Observed {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Observed{inner: inner, observer: observer}
}

// SupportsTransactions reports whether the wrapped storage serves
// transaction operations.
func (o *Observed) SupportsTransactions() bool {
	_, ok := AsTransactional(o.inner)
	return ok
}

func (o *Observed) Read(ctx context.Context) (State, error) {
	start := time.Now()
	state, err := o.inner.Read(ctx)
	if err != nil {
		o.fail(ctx, "read", err)
		return nil, err
	}
	o.emit(ctx, EventRead, "storage.Read", map[string]any{
		"tables":   len(state),
		"absent":   state == nil,
		"duration": time.Since(start),
	})
	return state, nil
}

func (o *Observed) Write(ctx context.Context, state State) error {
	start := time.Now()
	if err := o.inner.Write(ctx, state); err != nil {
		o.fail(ctx, "write", err)
		return err
	}
	o.emit(ctx, EventWrite, "storage.Write", map[string]any{
		"tables":   len(state),
		"duration": time.Since(start),
	})
	return nil
}

func (o *Observed) Close() error {
	return o.inner.Close()
}

func (o *Observed) Begin(ctx context.Context) error {
	return o.forward(ctx, "begin", func(tx Transactional) error { return tx.Begin(ctx) })
}

func (o *Observed) Commit(ctx context.Context) error {
	return o.forward(ctx, "commit", func(tx Transactional) error { return tx.Commit(ctx) })
}

func (o *Observed) Rollback(ctx context.Context) error {
	return o.forward(ctx, "rollback", func(tx Transactional) error { return tx.Rollback(ctx) })
}

func (o *Observed) Backup(ctx context.Context, path string) error {
	return o.forward(ctx, "backup", func(tx Transactional) error { return tx.Backup(ctx, path) })
}

func (o *Observed) Restore(ctx context.Context, path string) error {
	return o.forward(ctx, "restore", func(tx Transactional) error { return tx.Restore(ctx, path) })
}

func (o *Observed) forward(ctx context.Context, op string, fn func(Transactional) error) error {
	tx, ok := AsTransactional(o.inner)
	if !ok {
		return ErrNotTransactional
	}
	if err := fn(tx); err != nil {
		o.fail(ctx, op, err)
		return err
	}
	return nil
}

func (o *Observed) fail(ctx context.Context, op string, err error) {
	o.observer.OnEvent(ctx, observability.NewEvent(EventError, observability.LevelError, "storage.Observed", map[string]any{
		"op":    op,
		"error": err.Error(),
	}))
}

func (o *Observed) emit(ctx context.Context, typ observability.EventType, source string, data map[string]any) {
	o.observer.OnEvent(ctx, observability.NewEvent(typ, observability.LevelVerbose, source, data))
}
