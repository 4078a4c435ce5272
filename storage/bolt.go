package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltTables = []byte("tables")
	boltMeta   = []byte("meta")
	boltMarker = []byte("written")
)

// Bolt keeps each table as one key in a bbolt bucket. A Write replaces the
// bucket inside a single bolt transaction, so readers see either the old or
// the new State.
type Bolt struct {
	db     *bolt.DB
	codec  JSONCodec
	closed bool
	mu     sync.Mutex
}

// OpenBolt opens or creates the bbolt database at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: bolt storage path is required", ErrIO)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open bolt db %s: %v", ErrIO, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltMeta); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", boltMeta, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Read(_ context.Context) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	var state State
	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(boltMeta)
		if meta == nil || meta.Get(boltMarker) == nil {
			return nil
		}
		state = State{}
		bucket := tx.Bucket(boltTables)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			t, err := b.decodeTable(v)
			if err != nil {
				return fmt.Errorf("%w: table %q: %v", ErrMalformedState, k, err)
			}
			state[string(k)] = t
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrMalformedState) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return state, nil
}

func (b *Bolt) Write(_ context.Context, state State) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltTables); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		bucket, err := tx.CreateBucket(boltTables)
		if err != nil {
			return err
		}
		for name, t := range state {
			data, err := b.codec.Marshal(State{name: t})
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(name), data); err != nil {
				return err
			}
		}
		return tx.Bucket(boltMeta).Put(boltMarker, []byte{1})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (b *Bolt) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// decodeTable reads a value written by Write: a single-table State keyed by
// the table name.
func (b *Bolt) decodeTable(data []byte) (Table, error) {
	s, err := b.codec.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	for _, t := range s {
		return t, nil
	}
	return Table{}, nil
}
