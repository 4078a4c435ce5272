// Package storage defines the persistence contract for the document store and
// its physical backends. A Storage reads and writes the whole State at once;
// there is no partial or streamed access.
package storage

import "context"

// Storage persists a complete State. Read returns a nil State when nothing
// has ever been written. Write replaces the entire persisted State; once it
// returns, subsequent reads from the same instance observe the new value.
type Storage interface {
	// Read returns the full persisted State, or nil if it is absent.
	Read(ctx context.Context) (State, error)
	// Write replaces the full persisted State.
	Write(ctx context.Context, state State) error
	// Close releases underlying resources. Calling Close more than once is
	// not an error.
	Close() error
}

// Transactional is a Storage with single-level transactions and
// point-in-time backup and restore.
type Transactional interface {
	Storage
	// Begin captures the current State as the rollback point. Returns
	// ErrTransactionOpen if a transaction is already open.
	Begin(ctx context.Context) error
	// Commit discards the rollback point, making every write since Begin
	// permanent. Returns ErrNoTransaction if no transaction is open.
	Commit(ctx context.Context) error
	// Rollback overwrites the current State with the rollback point and
	// discards it. Returns ErrNoTransaction if no transaction is open.
	Rollback(ctx context.Context) error
	// Backup writes the current State to path, independent of any open
	// transaction.
	Backup(ctx context.Context, path string) error
	// Restore loads the State stored at path and writes it as the current
	// State. Returns ErrNotFound if path does not exist.
	Restore(ctx context.Context, path string) error
}

// FileBacked is implemented by backends whose entire State lives in a single
// file encoded with Codec. Transaction coordinators use it to take shadow
// copies and raw backups instead of in-memory snapshots.
type FileBacked interface {
	Storage
	Path() string
	Codec() Codec
}

// AsTransactional returns s as a Transactional when it can serve transaction
// operations. Decorators that forward them to a wrapped Storage report what
// the wrapped Storage supports through SupportsTransactions.
func AsTransactional(s Storage) (Transactional, bool) {
	tx, ok := s.(Transactional)
	if !ok {
		return nil, false
	}
	if d, ok := s.(interface{ SupportsTransactions() bool }); ok && !d.SupportsTransactions() {
		return nil, false
	}
	return tx, true
}

// Factory constructs a Storage from configuration.
type Factory func(cfg *Config) (Storage, error)
