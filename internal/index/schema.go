// Package index provides the SQLite-backed item store.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// MaxBatchWrites is the largest number of rows a single batch write may touch.
const MaxBatchWrites = 500

const schemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	id                   TEXT PRIMARY KEY,
	kind                 TEXT NOT NULL,
	content              TEXT NOT NULL,
	content_hash         TEXT NOT NULL DEFAULT '',
	hash_version         INTEGER NOT NULL DEFAULT 0,
	reference_type       TEXT NOT NULL DEFAULT '',
	linked_reference_ids TEXT NOT NULL DEFAULT '[]',
	topic                TEXT NOT NULL DEFAULT '',
	platforms            TEXT NOT NULL DEFAULT '[]',
	created_at           DATETIME NOT NULL,
	is_deleted           INTEGER NOT NULL DEFAULT 0,
	deleted_at           DATETIME
);

CREATE INDEX IF NOT EXISTS idx_items_kind ON items(kind);
CREATE INDEX IF NOT EXISTS idx_items_content_hash ON items(content_hash);
CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

CREATE TABLE IF NOT EXISTS tracking_posts (
	id             TEXT PRIMARY KEY,
	source_item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	platform       TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tracking_source ON tracking_posts(source_item_id);
`

// DB wraps a sql.DB with item store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
