package cache_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/docstore/cache"
	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/storage"
	"github.com/tailored-agentic-units/docstore/txn"
)

func doc(name string) storage.State {
	return storage.State{"_default": storage.Table{"1": storage.Document{"name": name}}}
}

func read(t *testing.T, s storage.Storage) storage.State {
	t.Helper()
	state, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return state
}

func write(t *testing.T, s storage.Storage, state storage.State) {
	t.Helper()
	if err := s.Write(context.Background(), state); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func newTransactional(t *testing.T) (*cache.Cache, *txn.Coordinator) {
	t.Helper()
	coord, err := txn.New(context.Background(), storage.NewMemory(), nil)
	if err != nil {
		t.Fatalf("txn.New() error = %v", err)
	}
	c := cache.New(coord, &cache.Config{FlushThreshold: 100})
	t.Cleanup(func() { c.Close() })
	return c, coord
}

func TestCache_ReadAfterWrite(t *testing.T) {
	inner := storage.NewMemory()
	write(t, inner, doc("before"))
	c := cache.New(inner, nil)

	write(t, c, doc("after"))

	if got := read(t, c); !reflect.DeepEqual(got, doc("after")) {
		t.Errorf("cache Read() = %#v, want %#v", got, doc("after"))
	}
	if got := read(t, inner); !reflect.DeepEqual(got, doc("before")) {
		t.Errorf("inner Read() = %#v, want %#v (not yet flushed)", got, doc("before"))
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
}

func TestCache_ThresholdFlush(t *testing.T) {
	const threshold = 5
	inner := storage.NewMemory()
	write(t, inner, doc("before"))
	c := cache.New(inner, &cache.Config{FlushThreshold: threshold})

	for i := 1; i < threshold; i++ {
		write(t, c, doc("write"))
	}
	if got := read(t, inner); !reflect.DeepEqual(got, doc("before")) {
		t.Errorf("inner after %d writes = %#v, want %#v", threshold-1, got, doc("before"))
	}

	write(t, c, doc("last"))
	if got := read(t, inner); !reflect.DeepEqual(got, doc("last")) {
		t.Errorf("inner after %d writes = %#v, want %#v", threshold, got, doc("last"))
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after threshold flush, want 0", c.Pending())
	}
}

func TestCache_DefaultThreshold(t *testing.T) {
	inner := storage.NewMemory()
	c := cache.New(inner, nil)

	for range cache.DefaultFlushThreshold - 1 {
		write(t, c, doc("x"))
	}
	if got := read(t, inner); got != nil {
		t.Errorf("inner Read() = %#v, want nil before default threshold", got)
	}
	write(t, c, doc("x"))
	if got := read(t, inner); !reflect.DeepEqual(got, doc("x")) {
		t.Errorf("inner Read() = %#v, want %#v at default threshold", got, doc("x"))
	}
}

func TestCache_CloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	inner, err := storage.OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	c := cache.New(inner, nil)

	write(t, c, doc("pending"))
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := storage.OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer reopened.Close()
	if got := read(t, reopened); !reflect.DeepEqual(got, doc("pending")) {
		t.Errorf("Read() after Close = %#v, want %#v", got, doc("pending"))
	}
}

func TestCache_ReadsNeverFallThroughOncePrimed(t *testing.T) {
	inner := storage.NewMemory()
	write(t, inner, doc("first"))
	c := cache.New(inner, nil)

	if got := read(t, c); !reflect.DeepEqual(got, doc("first")) {
		t.Fatalf("Read() = %#v, want %#v", got, doc("first"))
	}

	write(t, inner, doc("behind the cache"))

	if got := read(t, c); !reflect.DeepEqual(got, doc("first")) {
		t.Errorf("Read() = %#v, want primed buffer %#v", got, doc("first"))
	}
}

func TestCache_ReadPrimesAbsent(t *testing.T) {
	inner := storage.NewMemory()
	c := cache.New(inner, nil)

	if got := read(t, c); got != nil {
		t.Fatalf("Read() = %#v, want nil", got)
	}
	write(t, inner, doc("later"))
	if got := read(t, c); got != nil {
		t.Errorf("Read() = %#v, want primed absent State", got)
	}
}

func TestCache_RollbackInvalidatesBuffer(t *testing.T) {
	c, _ := newTransactional(t)
	ctx := context.Background()

	write(t, c, doc("committed"))
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	write(t, c, doc("in transaction"))
	if got := read(t, c); !reflect.DeepEqual(got, doc("in transaction")) {
		t.Fatalf("Read() = %#v, want %#v", got, doc("in transaction"))
	}

	if err := c.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := read(t, c); !reflect.DeepEqual(got, doc("committed")) {
		t.Errorf("Read() after Rollback = %#v, want %#v", got, doc("committed"))
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after Rollback, want 0", c.Pending())
	}
}

func TestCache_BeginFlushesPendingWrites(t *testing.T) {
	c, coord := newTransactional(t)
	ctx := context.Background()

	write(t, c, doc("unflushed"))
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got := read(t, coord); !reflect.DeepEqual(got, doc("unflushed")) {
		t.Errorf("wrapped Read() after Begin = %#v, want %#v", got, doc("unflushed"))
	}

	write(t, c, doc("discarded"))
	if err := c.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := read(t, c); !reflect.DeepEqual(got, doc("unflushed")) {
		t.Errorf("Read() after Rollback = %#v, want %#v", got, doc("unflushed"))
	}
}

func TestCache_CommitFlushes(t *testing.T) {
	c, coord := newTransactional(t)
	ctx := context.Background()

	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	write(t, c, doc("committed"))
	if err := c.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if got := read(t, coord); !reflect.DeepEqual(got, doc("committed")) {
		t.Errorf("wrapped Read() after Commit = %#v, want %#v", got, doc("committed"))
	}
	if coord.InTransaction() {
		t.Error("wrapped storage still in transaction after Commit")
	}
}

func TestCache_ThresholdFlushInsideTransactionStillRollsBack(t *testing.T) {
	coord, err := txn.New(context.Background(), storage.NewMemory(), nil)
	if err != nil {
		t.Fatalf("txn.New() error = %v", err)
	}
	c := cache.New(coord, &cache.Config{FlushThreshold: 2})
	defer c.Close()
	ctx := context.Background()

	write(t, c, doc("before"))
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	write(t, c, doc("one"))
	write(t, c, doc("two"))
	if got := read(t, coord); !reflect.DeepEqual(got, doc("two")) {
		t.Fatalf("wrapped Read() = %#v, want threshold flush of %#v", got, doc("two"))
	}

	if err := c.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := read(t, c); !reflect.DeepEqual(got, doc("before")) {
		t.Errorf("Read() after Rollback = %#v, want %#v", got, doc("before"))
	}
}

func TestCache_RollbackWithoutTransactionKeepsBuffer(t *testing.T) {
	c, _ := newTransactional(t)

	write(t, c, doc("pending"))
	if err := c.Rollback(context.Background()); !errors.Is(err, storage.ErrNoTransaction) {
		t.Fatalf("Rollback() error = %v, want %v", err, storage.ErrNoTransaction)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
	if got := read(t, c); !reflect.DeepEqual(got, doc("pending")) {
		t.Errorf("Read() = %#v, want %#v", got, doc("pending"))
	}
}

func TestCache_NestedBeginPassesThrough(t *testing.T) {
	c, _ := newTransactional(t)
	ctx := context.Background()

	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := c.Begin(ctx); !errors.Is(err, storage.ErrTransactionOpen) {
		t.Errorf("second Begin() error = %v, want %v", err, storage.ErrTransactionOpen)
	}
}

func TestCache_BackupRestore(t *testing.T) {
	c, _ := newTransactional(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup.json")

	write(t, c, doc("saved"))
	if err := c.Backup(ctx, path); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	write(t, c, doc("overwritten"))

	if err := c.Restore(ctx, path); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := read(t, c); !reflect.DeepEqual(got, doc("saved")) {
		t.Errorf("Read() after Restore = %#v, want %#v", got, doc("saved"))
	}
}

func TestCache_RestoreMissingKeepsBuffer(t *testing.T) {
	c, _ := newTransactional(t)

	write(t, c, doc("pending"))
	err := c.Restore(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Restore() error = %v, want %v", err, storage.ErrNotFound)
	}
	if got := read(t, c); !reflect.DeepEqual(got, doc("pending")) {
		t.Errorf("Read() = %#v, want %#v", got, doc("pending"))
	}
}

func TestCache_NotTransactional(t *testing.T) {
	c := cache.New(storage.NewMemory(), nil)
	ctx := context.Background()

	if err := c.Begin(ctx); !errors.Is(err, storage.ErrNotTransactional) {
		t.Errorf("Begin() error = %v, want %v", err, storage.ErrNotTransactional)
	}
	if err := c.Backup(ctx, "x"); !errors.Is(err, storage.ErrNotTransactional) {
		t.Errorf("Backup() error = %v, want %v", err, storage.ErrNotTransactional)
	}
}

func TestCache_SupportsTransactions(t *testing.T) {
	plain := cache.New(storage.NewMemory(), nil)
	if plain.SupportsTransactions() {
		t.Error("SupportsTransactions() = true over plain storage")
	}
	if _, ok := storage.AsTransactional(plain); ok {
		t.Error("AsTransactional() ok over plain storage")
	}

	coord, err := txn.New(context.Background(), storage.NewMemory(), nil)
	if err != nil {
		t.Fatalf("txn.New() error = %v", err)
	}
	wrapped := cache.New(coord, nil)
	defer wrapped.Close()
	if !wrapped.SupportsTransactions() {
		t.Error("SupportsTransactions() = false over a coordinator")
	}

	nested := cache.New(cache.New(storage.NewMemory(), nil), nil)
	if _, ok := storage.AsTransactional(nested); ok {
		t.Error("AsTransactional() ok for a cache over a plain cache")
	}
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := cache.New(storage.NewMemory(), nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if _, err := c.Read(context.Background()); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Read() after Close error = %v, want %v", err, storage.ErrClosed)
	}
}

type failingStorage struct {
	storage.Storage
	closed bool
}

func (f *failingStorage) Write(context.Context, storage.State) error {
	return storage.ErrIO
}

func (f *failingStorage) Close() error {
	f.closed = true
	return nil
}

func TestCache_FailedFlushKeepsPending(t *testing.T) {
	inner := &failingStorage{Storage: storage.NewMemory()}
	c := cache.New(inner, &cache.Config{FlushThreshold: 2})

	write(t, c, doc("one"))
	if err := c.Write(context.Background(), doc("two")); !errors.Is(err, storage.ErrIO) {
		t.Fatalf("Write() error = %v, want %v", err, storage.ErrIO)
	}
	if c.Pending() != 2 {
		t.Errorf("Pending() = %d after failed flush, want 2", c.Pending())
	}

	err := c.Close()
	if !errors.Is(err, storage.ErrIO) {
		t.Errorf("Close() error = %v, want flush failure %v", err, storage.ErrIO)
	}
	if !inner.closed {
		t.Error("wrapped storage should be closed even when the flush fails")
	}
}

func TestCache_Events(t *testing.T) {
	var rec observability.Recorder
	coord, err := txn.New(context.Background(), storage.NewMemory(), nil)
	if err != nil {
		t.Fatalf("txn.New() error = %v", err)
	}
	c := cache.New(coord, &cache.Config{FlushThreshold: 10}, cache.WithObserver(&rec))
	ctx := context.Background()

	write(t, c, doc("a"))
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	write(t, c, doc("b"))
	if err := c.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []observability.EventType{cache.EventFlush, cache.EventInvalidate}
	if got := rec.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("event types = %v, want %v", got, want)
	}
}

func TestCache_Concurrent_ReadWrite(t *testing.T) {
	c := cache.New(storage.NewMemory(), &cache.Config{FlushThreshold: 7})
	defer c.Close()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(2 * n)
	for range n {
		go func() {
			defer wg.Done()
			c.Write(context.Background(), doc("x"))
		}()
		go func() {
			defer wg.Done()
			c.Read(context.Background())
		}()
	}
	wg.Wait()
}

func TestConfig_Merge(t *testing.T) {
	cfg := cache.DefaultConfig()
	if cfg.Enabled {
		t.Error("cache should be disabled by default")
	}
	if cfg.FlushThreshold != cache.DefaultFlushThreshold {
		t.Errorf("got FlushThreshold %d, want %d", cfg.FlushThreshold, cache.DefaultFlushThreshold)
	}

	cfg.Merge(&cache.Config{Enabled: true, FlushThreshold: 50})
	if !cfg.Enabled || cfg.FlushThreshold != 50 {
		t.Errorf("got %+v, want Enabled=true FlushThreshold=50", cfg)
	}

	cfg.Merge(&cache.Config{})
	if cfg.FlushThreshold != 50 {
		t.Errorf("got FlushThreshold %d, want 50 (preserved)", cfg.FlushThreshold)
	}
}
