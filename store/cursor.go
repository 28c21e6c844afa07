package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrCursorRegression rejects writes that would move the cursor backwards.
var ErrCursorRegression = errors.New("store: cursor write below stored value")

// CursorStore persists the last-seen Gmail history id. The cursor is a single
// row; writes are transactional and monotonic.
type CursorStore struct {
	store *Store
}

// NewCursorStore returns the cursor store over an open database.
func NewCursorStore(s *Store) *CursorStore {
	return &CursorStore{store: s}
}

// Read returns the stored cursor and its wall-clock checkpoint. ok is false
// on first run, before any write.
func (c *CursorStore) Read() (value uint64, updatedAt time.Time, ok bool, err error) {
	var raw string
	row := c.store.db.QueryRow(`SELECT value, updated_at FROM history_cursor WHERE id = 1`)
	if err := row.Scan(&raw, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, false, nil
		}
		return 0, time.Time{}, false, fmt.Errorf("failed to read cursor: %w", err)
	}
	value, err = strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("corrupt cursor value %q: %w", raw, err)
	}
	return value, updatedAt, true, nil
}

// Write durably records value. Values below the stored cursor are rejected
// with ErrCursorRegression; equal values only refresh the checkpoint.
func (c *CursorStore) Write(value uint64) error {
	tx, err := c.store.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cursor write: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT value FROM history_cursor WHERE id = 1`).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read cursor: %w", err)
	}
	if err == nil {
		stored, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("corrupt cursor value %q: %w", raw, parseErr)
		}
		if value < stored {
			return fmt.Errorf("%w: stored %d, proposed %d", ErrCursorRegression, stored, value)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO history_cursor (id, value, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		strconv.FormatUint(value, 10), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return tx.Commit()
}
