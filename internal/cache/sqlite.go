package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"todo-go/internal/cache/migrations"
	"todo-go/internal/todo"
)

// SQLiteCache stores cache entries in a single SQLite table.
// The database is opened and migrated on first use; callers that arrive
// while that is in progress wait for the same bootstrap and see its error.
type SQLiteCache struct {
	path  string
	clock todo.Clock

	once    sync.Once
	db      *sql.DB
	initErr error
}

var _ todo.Cache = (*SQLiteCache)(nil)

// NewSQLiteCache creates a cache backed by the database file at path.
// path may be ":memory:". Nothing is opened until the first Get or Set.
func NewSQLiteCache(path string, clock todo.Clock) *SQLiteCache {
	return &SQLiteCache{path: path, clock: clock}
}

// OpenConnection opens a SQLite database with the PRAGMAs the cache relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: an in-memory database is private to its connection,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	return db, nil
}

func (c *SQLiteCache) ready() error {
	c.once.Do(func() {
		if c.path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
				c.initErr = fmt.Errorf("creating cache directory: %w", err)
				return
			}
		}
		db, err := OpenConnection(c.path)
		if err != nil {
			c.initErr = err
			return
		}
		if err := migrations.MigrateUp(db); err != nil {
			db.Close()
			c.initErr = fmt.Errorf("migrating cache: %w", err)
			return
		}
		c.db = db
	})
	return c.initErr
}

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var value []byte
	err := c.db.QueryRowContext(ctx, "SELECT value FROM cache_entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	return value, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, todo.NowMillis(c.clock))
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Close closes the database if it was opened.
func (c *SQLiteCache) Close() error {
	// Mark bootstrap as done so a late Get cannot reopen the database.
	c.once.Do(func() { c.initErr = todo.ErrClosed })
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
