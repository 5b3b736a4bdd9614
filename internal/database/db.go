// Package database provides SQLite connection management and migrations for
// the transaction ledger.
package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// New opens the ledger database at path with WAL journaling.
func New(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The ledger serializes writes behind a single critical section, so a
	// small pool is enough.
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(3)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

// NewMemory opens an in-memory database, used by tests. The single connection
// keeps every statement on the same in-memory instance.
func NewMemory() (*sql.DB, error) {
	conn, err := sql.Open("sqlite", ":memory:?_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
