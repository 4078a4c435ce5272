package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS docstore_tables (
	name TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS docstore_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SQLite keeps one row per table with the table encoded as JSON. A Write
// replaces every row inside one SQL transaction.
type SQLite struct {
	sqlDB  *sql.DB
	codec  JSONCodec
	closed bool
	mu     sync.Mutex
}

// OpenSQLite opens or creates the SQLite database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite storage path is required", ErrIO)
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}

	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", ErrIO, err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %v", ErrIO, err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrIO, err)
	}

	return &SQLite{sqlDB: sqlDB}, nil
}

func (s *SQLite) Read(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	var marker string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM docstore_meta WHERE key = 'written'`).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read marker: %v", ErrIO, err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name, body FROM docstore_tables`)
	if err != nil {
		return nil, fmt.Errorf("%w: query tables: %v", ErrIO, err)
	}
	defer rows.Close()

	state := State{}
	for rows.Next() {
		var name, body string
		if err := rows.Scan(&name, &body); err != nil {
			return nil, fmt.Errorf("%w: scan table: %v", ErrIO, err)
		}
		decoded, err := s.codec.Unmarshal([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		t := decoded[name]
		if t == nil {
			t = Table{}
		}
		state[name] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tables: %v", ErrIO, err)
	}
	return state, nil
}

func (s *SQLite) Write(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM docstore_tables`); err != nil {
		return fmt.Errorf("%w: clear tables: %v", ErrIO, err)
	}
	for name, t := range state {
		body, err := s.codec.Marshal(State{name: t})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO docstore_tables (name, body) VALUES (?, ?)`, name, string(body)); err != nil {
			return fmt.Errorf("%w: insert table %q: %v", ErrIO, name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO docstore_meta (key, value) VALUES ('written', '1')`); err != nil {
		return fmt.Errorf("%w: write marker: %v", ErrIO, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrIO, err)
	}
	return nil
}

// Close closes the SQLite handle.
func (s *SQLite) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.sqlDB.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
