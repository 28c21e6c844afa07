// Package store owns the durable state of the ingestion core: the Gmail
// history cursor and the processed-message ledger, both in one sqlite file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS history_cursor (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_records (
	message_id TEXT PRIMARY KEY,
	processed_at DATETIME NOT NULL,
	outcome TEXT NOT NULL CHECK (outcome IN ('delivered', 'skipped', 'failed')),
	attachment_count INTEGER NOT NULL DEFAULT 0,
	error_summary TEXT
);

CREATE INDEX IF NOT EXISTS idx_processing_records_processed_at
	ON processing_records(processed_at);
`

// Store is the shared sqlite handle behind the cursor store and the ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
