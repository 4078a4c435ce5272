// Package docstore is the document store facade. A DB owns exactly one
// storage stack (backend, transaction coordinator and optional write-behind
// cache) and hands out Table handles that read-modify-write the shared State.
//
// Open builds the stack from configuration. Functional options replace any
// config-created piece, which is how tests inject in-memory storage.
//
//	db, err := docstore.Open(ctx, &cfg)
//	defer db.Close()
//	id, err := db.Table("users").Insert(ctx, storage.Document{"name": "Alice"})
//	err = db.Begin(ctx)
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/docstore/cache"
	"github.com/tailored-agentic-units/docstore/observability"
	"github.com/tailored-agentic-units/docstore/remote"
	"github.com/tailored-agentic-units/docstore/storage"
	"github.com/tailored-agentic-units/docstore/txn"
)

// Option configures a DB during Open.
type Option func(*DB)

// WithStorage supplies the backend directly, bypassing the configured
// factory. The DB takes ownership and closes it on Close.
func WithStorage(s storage.Storage) Option {
	return func(db *DB) { db.backend = s }
}

// WithFactory overrides the factory used to create the backend from
// Config.Storage.
func WithFactory(f storage.Factory) Option {
	return func(db *DB) { db.factory = f }
}

// WithObserver overrides the observer selected by Config.Observer. Several
// observers receive every event in the order given. The result is shared
// with the transaction coordinator and cache.
func WithObserver(observers ...observability.Observer) Option {
	return func(db *DB) {
		if len(observers) == 1 {
			db.observer = observers[0]
			return
		}
		db.observer = observability.NewMultiObserver(observers...)
	}
}

// WithLogger sets the logger used by the slog observer.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// NewStorage is the default storage.Factory. It extends storage.New with
// the remote backend, where Path is the server base URL.
func NewStorage(cfg *storage.Config) (storage.Storage, error) {
	if cfg.Backend == storage.BackendRemote {
		if cfg.Path == "" {
			return nil, fmt.Errorf("remote backend requires a base URL")
		}
		return remote.NewClient(cfg.Path), nil
	}
	return storage.New(cfg)
}

// DB coordinates tables against a single owned storage stack. All methods
// are safe for concurrent use; each table operation reads, modifies and
// writes the whole State under one lock.
type DB struct {
	store        storage.Transactional
	backend      storage.Storage
	factory      storage.Factory
	observer     observability.Observer
	logger       *slog.Logger
	defaultTable string
	tables       map[string]*Table
	schemas      map[string][]string
	id           string
	closed       bool
	mu           sync.Mutex
}

// Open creates a DB from configuration. A nil cfg selects DefaultConfig.
// Backends that cannot serve transactions, including a cache.Cache over plain
// storage, are wrapped in a txn.Coordinator; when caching is enabled a
// cache.Cache sits on top, and with Trace set a storage.Observed reports
// every operation.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*DB, error) {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}

	db := &DB{
		factory:      NewStorage,
		defaultTable: merged.DefaultTable,
		tables:       make(map[string]*Table),
		schemas:      make(map[string][]string),
		id:           uuid.Must(uuid.NewV7()).String(),
	}
	for _, opt := range opts {
		opt(db)
	}

	if db.observer == nil {
		obs, err := observability.Named(merged.Observer, db.logger)
		if err != nil {
			return nil, err
		}
		db.observer = obs
	}

	backend := db.backend
	if backend == nil {
		b, err := db.factory(&merged.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		backend = b
	}

	store, err := db.stack(ctx, backend, &merged)
	if err != nil {
		backend.Close()
		return nil, err
	}
	db.store = store
	db.backend = backend

	db.emit(ctx, EventOpen, observability.LevelInfo, "docstore.Open", map[string]any{
		"db_id":   db.id,
		"backend": fmt.Sprintf("%T", backend),
		"cache":   merged.Cache.Enabled,
	})
	return db, nil
}

func (db *DB) stack(ctx context.Context, backend storage.Storage, cfg *Config) (storage.Transactional, error) {
	store, ok := storage.AsTransactional(backend)
	if !ok {
		coord, err := txn.New(ctx, backend, &cfg.Transaction, txn.WithObserver(db.observer))
		if err != nil {
			return nil, fmt.Errorf("failed to create transaction coordinator: %w", err)
		}
		store = coord
	}

	if cfg.Cache.Enabled {
		store = cache.New(store, &cfg.Cache, cache.WithObserver(db.observer))
	}
	if cfg.Trace {
		store = storage.Observe(store, db.observer)
	}
	return store, nil
}

// ID returns the identifier assigned to this DB instance.
func (db *DB) ID() string {
	return db.id
}

// Storage returns the top of the owned storage stack.
func (db *DB) Storage() storage.Transactional {
	return db.store
}

// Table returns the handle for name, creating it on first access. Repeated
// calls return the same handle. The empty name selects the default table.
// No State is written until the table is modified.
func (db *DB) Table(name string) *Table {
	if name == "" {
		name = db.defaultTable
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if t, ok := db.tables[name]; ok {
		return t
	}
	t := &Table{db: db, name: name}
	db.tables[name] = t
	return t
}

// Tables returns the names of all tables in the current State in lexical
// order. An absent State has no tables.
func (db *DB) Tables(ctx context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	state, err := db.load(ctx)
	if err != nil {
		return nil, err
	}
	return state.Tables(), nil
}

// DropTable removes name and its documents. Dropping a table that does not
// exist is not an error.
func (db *DB) DropTable(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.tables, name)

	state, err := db.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := state[name]; !ok {
		return nil
	}
	delete(state, name)
	if err := db.store.Write(ctx, state); err != nil {
		return err
	}

	db.emit(ctx, EventTableDrop, observability.LevelInfo, "docstore.DropTable", map[string]any{"table": name})
	return nil
}

// DropTables removes every table.
func (db *DB) DropTables(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return storage.ErrClosed
	}
	clear(db.tables)
	if err := db.store.Write(ctx, storage.State{}); err != nil {
		return err
	}

	db.emit(ctx, EventTableDrop, observability.LevelInfo, "docstore.DropTables", map[string]any{"table": "*"})
	return nil
}

// Insert adds doc to the default table.
func (db *DB) Insert(ctx context.Context, doc storage.Document) (int, error) {
	return db.Table(db.defaultTable).Insert(ctx, doc)
}

// Remove deletes the default table's documents matching cond.
func (db *DB) Remove(ctx context.Context, cond Cond) ([]int, error) {
	return db.Table(db.defaultTable).Remove(ctx, cond)
}

// Len returns the number of documents in the default table.
func (db *DB) Len(ctx context.Context) (int, error) {
	return db.Table(db.defaultTable).Len(ctx)
}

// All returns the default table's documents in id order.
func (db *DB) All(ctx context.Context) ([]Record, error) {
	return db.Table(db.defaultTable).All(ctx)
}

// SetSchema records the fields a document in table is expected to carry.
// The schema is advisory: inserts never consult it.
func (db *DB) SetSchema(table string, fields ...string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.schemas[table] = slices.Clone(fields)
}

// ValidateDocument reports whether doc has every field named by the schema
// of table. Value types and extra fields are not checked. A table without a
// schema accepts every document.
func (db *DB) ValidateDocument(table string, doc storage.Document) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, field := range db.schemas[table] {
		if _, ok := doc[field]; !ok {
			return false
		}
	}
	return true
}

func (db *DB) Begin(ctx context.Context) error {
	return db.delegate(func() error { return db.store.Begin(ctx) })
}

func (db *DB) Commit(ctx context.Context) error {
	return db.delegate(func() error { return db.store.Commit(ctx) })
}

func (db *DB) Rollback(ctx context.Context) error {
	return db.delegate(func() error { return db.store.Rollback(ctx) })
}

func (db *DB) Backup(ctx context.Context, path string) error {
	return db.delegate(func() error { return db.store.Backup(ctx, path) })
}

func (db *DB) Restore(ctx context.Context, path string) error {
	return db.delegate(func() error { return db.store.Restore(ctx, path) })
}

// Close closes the storage stack, flushing any cached writes. Calling Close
// again returns nil; every other operation returns storage.ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	clear(db.tables)

	err := db.store.Close()
	db.emit(context.Background(), EventClose, observability.LevelInfo, "docstore.Close", map[string]any{"db_id": db.id})
	return err
}

// String summarizes the tables and their document counts.
func (db *DB) String() string {
	db.mu.Lock()
	defer db.mu.Unlock()

	state, err := db.load(context.Background())
	if err != nil {
		return fmt.Sprintf("<DB error=%v>", err)
	}

	names := state.Tables()
	counts := make([]string, len(names))
	for i, name := range names {
		counts[i] = fmt.Sprintf("%s=%d", name, len(state[name]))
	}
	return fmt.Sprintf("<DB tables=[%s], tables_count=%d, default_table_documents_count=%d, all_tables_documents_count=[%s]>",
		strings.Join(names, " "), len(names), len(state[db.defaultTable]), strings.Join(counts, " "))
}

func (db *DB) delegate(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return storage.ErrClosed
	}
	return fn()
}

// load returns the current State, substituting an empty State when none has
// been written. Callers hold db.mu.
func (db *DB) load(ctx context.Context) (storage.State, error) {
	if db.closed {
		return nil, storage.ErrClosed
	}
	state, err := db.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = storage.State{}
	}
	return state, nil
}

func (db *DB) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, data map[string]any) {
	db.observer.OnEvent(ctx, observability.NewEvent(typ, level, source, data))
}
