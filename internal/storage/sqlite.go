// Package storage holds the sqlite database shared by the backend's
// notification service and the client's local preferences.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB is a migrated sqlite handle.
type DB struct {
	conn     *sqlx.DB
	path     string
	isMemory bool
}

// Config selects the database file.
type Config struct {
	Path     string
	InMemory bool
}

func (c Config) dsn() (string, error) {
	if c.InMemory {
		// Named per handle so parallel tests never share a database.
		return fmt.Sprintf("file:mem-%s?mode=memory&cache=shared&_time_format=sqlite", uuid.NewString()), nil
	}
	if c.Path == "" {
		return "", fmt.Errorf("storage: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return "", fmt.Errorf("storage: create data dir: %w", err)
	}
	return c.Path + "?_time_format=sqlite", nil
}

// Open opens the database and applies connection pragmas. Call Migrate
// before use.
func Open(cfg Config) (*DB, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	// One writer at a time.
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: %s: %w", p, err)
		}
	}

	return &DB{conn: conn, path: cfg.Path, isMemory: cfg.InMemory}, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the sqlx handle to the stores built on it.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Path is the database file, or "" for an in-memory database.
func (db *DB) Path() string {
	return db.path
}

// Transaction runs fn in a transaction, committing when fn returns nil.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
