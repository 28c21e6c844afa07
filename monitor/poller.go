// Package monitor houses the ingestion pipeline: the delta poller that walks
// Gmail's history API, the processor that hydrates and dispatches messages,
// and the supervisor that ties both to process lifetime.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/condorfx/mailroom/gmail"
	"github.com/condorfx/mailroom/store"
)

// Mailbox is the slice of the Gmail client the poller consumes. The real
// implementation is *gmail.Client; tests substitute a fake.
type Mailbox interface {
	Profile(ctx context.Context) (uint64, error)
	History(ctx context.Context, startID uint64) ([]gmail.HistoryEntry, uint64, error)
	RecentRefs(ctx context.Context, limit int64, after time.Time) ([]gmail.MessageRef, error)
	FetchMessage(ctx context.Context, ref gmail.MessageRef) (*gmail.Message, error)
}

var _ Mailbox = (*gmail.Client)(nil)

// TickResult summarizes one poll round.
type TickResult struct {
	Initialized  bool   `json:"initialized,omitempty"` // true when the tick only seeded the cursor
	Candidates   int    `json:"candidates"`
	Processed    int    `json:"processed"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	UsedFallback bool   `json:"used_fallback,omitempty"`
	Cursor       uint64 `json:"cursor"`
}

// Poller drives the history delta loop. One Poller runs per process; the
// cursor and ledger are written from here and the processor only.
type Poller struct {
	mailbox       Mailbox
	cursor        *store.CursorStore
	ledger        *store.Ledger
	processor     *Processor
	fallbackLimit int64
	logger        zerolog.Logger
}

// NewPoller wires the delta poller.
func NewPoller(mailbox Mailbox, cursor *store.CursorStore, ledger *store.Ledger, processor *Processor, fallbackLimit int64, logger zerolog.Logger) *Poller {
	return &Poller{
		mailbox:       mailbox,
		cursor:        cursor,
		ledger:        ledger,
		processor:     processor,
		fallbackLimit: fallbackLimit,
		logger:        logger.With().Str("component", "delta-poller").Logger(),
	}
}

// EnsureCursor seeds the cursor from the mailbox profile when absent. Without
// the seed, the first delta request would enumerate the whole mailbox.
func (p *Poller) EnsureCursor(ctx context.Context) (uint64, bool, error) {
	value, _, ok, err := p.cursor.Read()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return value, false, nil
	}
	baseline, err := p.mailbox.Profile(ctx)
	if err != nil {
		return 0, false, err
	}
	if err := p.cursor.Write(baseline); err != nil {
		return 0, false, err
	}
	p.logger.Info().Uint64("history_id", baseline).Msg("cursor seeded from mailbox profile")
	return baseline, true, nil
}

// Tick performs one poll round. Errors abort the round without advancing the
// cursor past the last fully processed history group; the next tick
// re-enumerates the remainder.
func (p *Poller) Tick(ctx context.Context) (*TickResult, error) {
	cursorValue, checkpoint, ok, err := p.cursor.Read()
	if err != nil {
		return nil, err
	}
	if !ok {
		seeded, _, err := p.EnsureCursor(ctx)
		if err != nil {
			return nil, err
		}
		return &TickResult{Initialized: true, Cursor: seeded}, nil
	}

	entries, latest, err := p.mailbox.History(ctx, cursorValue)
	if errors.Is(err, gmail.ErrHistoryExpired) {
		return p.fallbackScan(ctx, cursorValue, checkpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("history delta from %d: %w", cursorValue, err)
	}

	candidates := collectCandidates(entries)
	result := &TickResult{Candidates: len(candidates)}

	// Track the highest history id whose group is fully handled so a partial
	// failure advances the cursor only up to a safe point. History groups
	// share an id; advancing into a half-done group would lose its remainder.
	safe := cursorValue
	current := cursorValue
	handled := make(map[string]bool, len(candidates))
	for _, ref := range candidates {
		if ref.HistoryID > current {
			safe = current
			current = ref.HistoryID
		}
		if handled[ref.ID] {
			continue
		}
		handled[ref.ID] = true

		seen, err := p.ledger.Seen(ref.ID)
		if err != nil {
			return result, p.abort(result, safe, cursorValue, err)
		}
		if seen {
			result.Skipped++
			continue
		}

		rec, err := p.processor.Process(ctx, ref)
		if err != nil {
			result.Failed++
			return result, p.abort(result, safe, cursorValue, err)
		}
		switch rec.Outcome {
		case store.OutcomeSkipped:
			result.Skipped++
		case store.OutcomeFailed:
			result.Failed++
		default:
			result.Processed++
		}
	}

	advance := latest
	if advance < current {
		advance = current
	}
	if advance < cursorValue {
		advance = cursorValue
	}
	// Even an empty round refreshes the cursor to Gmail's latest id so the
	// next delta does not re-page an empty range.
	if err := p.cursor.Write(advance); err != nil {
		return result, err
	}
	result.Cursor = advance
	p.logger.Debug().Int("candidates", result.Candidates).Int("processed", result.Processed).
		Uint64("cursor", advance).Msg("tick complete")
	return result, nil
}

// abort advances the cursor to the last safe history id, then reports err.
func (p *Poller) abort(result *TickResult, safe, cursorValue uint64, err error) error {
	if safe > cursorValue {
		if writeErr := p.cursor.Write(safe); writeErr != nil {
			p.logger.Error().Err(writeErr).Msg("failed to record partial progress")
		} else {
			result.Cursor = safe
		}
	}
	return err
}

// fallbackScan recovers from an expired cursor: list the most recent messages
// after the last wall-clock checkpoint and let the ledger suppress replays.
// The cursor is refreshed from the profile only after a clean pass.
func (p *Poller) fallbackScan(ctx context.Context, cursorValue uint64, checkpoint time.Time) (*TickResult, error) {
	p.logger.Warn().Uint64("cursor", cursorValue).Time("checkpoint", checkpoint).
		Msg("history id expired, running fallback scan")

	refs, err := p.mailbox.RecentRefs(ctx, p.fallbackLimit, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("fallback scan: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })

	result := &TickResult{Candidates: len(refs), UsedFallback: true}
	for _, ref := range refs {
		seen, err := p.ledger.Seen(ref.ID)
		if err != nil {
			return result, err
		}
		if seen {
			result.Skipped++
			continue
		}
		rec, err := p.processor.Process(ctx, ref)
		if err != nil {
			result.Failed++
			return result, err
		}
		switch rec.Outcome {
		case store.OutcomeSkipped:
			result.Skipped++
		case store.OutcomeFailed:
			result.Failed++
		default:
			result.Processed++
		}
	}

	refreshed, err := p.mailbox.Profile(ctx)
	if err != nil {
		return result, fmt.Errorf("refresh cursor after fallback: %w", err)
	}
	if err := p.cursor.Write(refreshed); err != nil {
		return result, err
	}
	result.Cursor = refreshed
	return result, nil
}

// Run executes Tick at the configured cadence until ctx is cancelled. Fatal
// setup errors terminate the loop; ordinary tick failures are logged and
// retried next round.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if err := p.tickLogged(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.tickLogged(ctx); err != nil {
				return err
			}
		}
	}
}

// tickLogged runs one tick, swallowing recoverable errors and returning only
// ones fatal to the loop.
func (p *Poller) tickLogged(ctx context.Context) error {
	_, err := p.Tick(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, gmail.ErrCredentialUnavailable) || errors.Is(err, gmail.ErrDelegationDenied) {
		p.logger.Error().Err(err).Msg("fatal setup error, stopping poller")
		return err
	}
	p.logger.Error().Err(err).Msg("tick failed, will retry next round")
	return nil
}

// collectCandidates flattens history entries into refs ordered by history id
// ascending, ties broken by message id, so processing preserves arrival order.
func collectCandidates(entries []gmail.HistoryEntry) []gmail.MessageRef {
	var refs []gmail.MessageRef
	for _, entry := range entries {
		refs = append(refs, entry.Added...)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].HistoryID != refs[j].HistoryID {
			return refs[i].HistoryID < refs[j].HistoryID
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}
