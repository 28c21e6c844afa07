package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome classifies how a message left the pipeline.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ProcessingRecord is one ledger entry.
type ProcessingRecord struct {
	MessageID       string
	ProcessedAt     time.Time
	Outcome         Outcome
	AttachmentCount int
	ErrorSummary    string
}

// Ledger remembers which message ids have been handled. The sqlite layer is
// authoritative; an insertion-ordered in-memory set mirrors recent ids so the
// common membership test never touches disk.
type Ledger struct {
	store   *Store
	ceiling int

	mu     sync.Mutex
	index  map[string]struct{}
	order  []string
	loaded int64 // total rows at open, for Count without a scan
}

// NewLedger opens the ledger, warming the in-memory index with the most
// recently processed ids.
func NewLedger(s *Store, memoryCeiling int) (*Ledger, error) {
	l := &Ledger{
		store:   s,
		ceiling: memoryCeiling,
		index:   make(map[string]struct{}),
	}

	rows, err := s.db.Query(`
		SELECT message_id FROM processing_records
		ORDER BY processed_at DESC LIMIT ?`, memoryCeiling)
	if err != nil {
		return nil, fmt.Errorf("failed to warm ledger index: %w", err)
	}
	defer rows.Close()
	var recent []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		recent = append(recent, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to warm ledger index: %w", err)
	}
	// Reverse so the oldest warmed id evicts first.
	for i := len(recent) - 1; i >= 0; i-- {
		l.index[recent[i]] = struct{}{}
		l.order = append(l.order, recent[i])
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM processing_records`).Scan(&l.loaded); err != nil {
		return nil, fmt.Errorf("failed to count ledger rows: %w", err)
	}
	return l, nil
}

// Seen reports whether the message id has already been handled. Memory
// answers first; a miss falls through to the durable layer.
func (l *Ledger) Seen(messageID string) (bool, error) {
	l.mu.Lock()
	_, hit := l.index[messageID]
	l.mu.Unlock()
	if hit {
		return true, nil
	}

	var one int
	err := l.store.db.QueryRow(
		`SELECT 1 FROM processing_records WHERE message_id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return true, nil
}

// Remember durably records the outcome for a message and admits the id to the
// in-memory index, evicting the least-recently-added half when the ceiling is
// exceeded.
func (l *Ledger) Remember(rec ProcessingRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	seen, err := l.Seen(rec.MessageID)
	if err != nil {
		return err
	}
	var errSummary any
	if rec.ErrorSummary != "" {
		errSummary = rec.ErrorSummary
	}
	_, err = l.store.db.Exec(`
		INSERT INTO processing_records (message_id, processed_at, outcome, attachment_count, error_summary)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			processed_at = excluded.processed_at,
			outcome = excluded.outcome,
			attachment_count = excluded.attachment_count,
			error_summary = excluded.error_summary`,
		rec.MessageID, rec.ProcessedAt, string(rec.Outcome), rec.AttachmentCount, errSummary)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", rec.MessageID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.index[rec.MessageID]; !exists {
		l.index[rec.MessageID] = struct{}{}
		l.order = append(l.order, rec.MessageID)
	}
	if !seen {
		l.loaded++
	}
	if len(l.order) > l.ceiling {
		drop := len(l.order) / 2
		for _, id := range l.order[:drop] {
			delete(l.index, id)
		}
		l.order = append([]string(nil), l.order[drop:]...)
	}
	return nil
}

// Get returns the stored record for a message id, or nil when absent.
func (l *Ledger) Get(messageID string) (*ProcessingRecord, error) {
	var rec ProcessingRecord
	var errSummary sql.NullString
	var outcome string
	err := l.store.db.QueryRow(`
		SELECT message_id, processed_at, outcome, attachment_count, error_summary
		FROM processing_records WHERE message_id = ?`, messageID).
		Scan(&rec.MessageID, &rec.ProcessedAt, &outcome, &rec.AttachmentCount, &errSummary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", messageID, err)
	}
	rec.Outcome = Outcome(outcome)
	rec.ErrorSummary = errSummary.String
	return &rec, nil
}

// Count returns the number of durable processing records.
func (l *Ledger) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Forget removes a message id from the ledger so an administrator can force
// re-processing.
func (l *Ledger) Forget(messageID string) error {
	if _, err := l.store.db.Exec(
		`DELETE FROM processing_records WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("failed to forget %s: %w", messageID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.index[messageID]; exists {
		delete(l.index, messageID)
		for i, id := range l.order {
			if id == messageID {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
	if l.loaded > 0 {
		l.loaded--
	}
	return nil
}

// Prune trims the durable log to the most recent keep rows.
func (l *Ledger) Prune(keep int64) error {
	res, err := l.store.db.Exec(`
		DELETE FROM processing_records WHERE message_id NOT IN (
			SELECT message_id FROM processing_records
			ORDER BY processed_at DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune ledger: %w", err)
	}
	dropped, _ := res.RowsAffected()
	l.mu.Lock()
	l.loaded -= dropped
	if l.loaded < 0 {
		l.loaded = 0
	}
	l.mu.Unlock()
	return nil
}
