package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/condorfx/mailroom/bus"
	"github.com/condorfx/mailroom/extract"
	"github.com/condorfx/mailroom/gmail"
	"github.com/condorfx/mailroom/store"
)

// Processor hydrates one message, hands it to the extraction collaborator,
// records the outcome, and emits events. The bus is injected here so the
// supervisor never needs a back-pointer to publish results.
type Processor struct {
	mailbox   Mailbox
	ledger    *store.Ledger
	extractor extract.Extractor
	events    *bus.Bus
	logger    zerolog.Logger
}

// NewProcessor wires the message processor.
func NewProcessor(mailbox Mailbox, ledger *store.Ledger, extractor extract.Extractor, events *bus.Bus, logger zerolog.Logger) *Processor {
	return &Processor{
		mailbox:   mailbox,
		ledger:    ledger,
		extractor: extractor,
		events:    events,
		logger:    logger.With().Str("component", "message-processor").Logger(),
	}
}

// Process handles one candidate end to end. A returned error means the tick
// must stop (fetch retries exhausted, storage failure); extraction failures
// and deleted messages are terminal per-message outcomes, not tick errors.
func (p *Processor) Process(ctx context.Context, ref gmail.MessageRef) (store.ProcessingRecord, error) {
	msg, err := p.mailbox.FetchMessage(ctx, ref)
	if errors.Is(err, gmail.ErrMessageNotFound) {
		// Deleted between listing and fetch. Remember it so the history
		// window does not re-offer it forever.
		rec := store.ProcessingRecord{
			MessageID:   ref.ID,
			ProcessedAt: time.Now().UTC(),
			Outcome:     store.OutcomeSkipped,
		}
		if err := p.ledger.Remember(rec); err != nil {
			return rec, err
		}
		p.logger.Info().Str("message_id", ref.ID).Msg("message vanished before fetch, skipped")
		return rec, nil
	}
	if err != nil {
		return store.ProcessingRecord{}, err
	}

	summary, extractErr := p.extractor.Extract(ctx, msg)
	if extractErr != nil {
		rec := store.ProcessingRecord{
			MessageID:       msg.ID,
			ProcessedAt:     time.Now().UTC(),
			Outcome:         store.OutcomeFailed,
			AttachmentCount: len(msg.Attachments),
			ErrorSummary:    extractErr.Error(),
		}
		// The id still enters the ledger: replaying a failing message every
		// tick would storm downstream. Re-processing takes Forget.
		if err := p.ledger.Remember(rec); err != nil {
			return rec, err
		}
		p.events.Publish(bus.NewEvent(bus.EventSystemAlert, bus.PriorityHigh, bus.EventData{
			Title:   "Confirmation processing failed",
			Message: fmt.Sprintf("Extraction failed for message from %s: %v", msg.SenderEmail, extractErr),
			Payload: map[string]any{"message_id": msg.ID, "sender": msg.SenderEmail},
		}))
		p.logger.Error().Err(extractErr).Str("message_id", msg.ID).Msg("extraction failed")
		return rec, nil
	}

	rec := store.ProcessingRecord{
		MessageID:       msg.ID,
		ProcessedAt:     time.Now().UTC(),
		Outcome:         store.OutcomeDelivered,
		AttachmentCount: len(msg.Attachments),
	}
	if err := p.ledger.Remember(rec); err != nil {
		return rec, err
	}

	p.publishProcessed(msg, summary)
	p.logger.Info().Str("message_id", msg.ID).Str("sender", msg.SenderEmail).
		Int("attachments", len(msg.Attachments)).Int("trades", summary.TradesExtracted).
		Msg("message processed")
	return rec, nil
}

func (p *Processor) publishProcessed(msg *gmail.Message, summary *extract.Summary) {
	processed := bus.NewEvent(bus.EventGmailProcessed, bus.PriorityMedium, bus.EventData{
		Title:   fmt.Sprintf("Confirmation from %s", msg.SenderEmail),
		Message: msg.Subject,
		Payload: map[string]any{
			"message_id":       msg.ID,
			"thread_id":        msg.ThreadID,
			"attachment_count": len(msg.Attachments),
			"trades_extracted": summary.TradesExtracted,
			"matches_created":  summary.MatchesCreated,
			"duplicates_found": summary.DuplicatesFound,
		},
	})
	processed.ClientID = summary.ClientID
	p.events.Publish(processed)

	if summary.MatchesCreated > 0 {
		matched := bus.NewEvent(bus.EventMatchCreated, bus.PriorityHigh, bus.EventData{
			Title:   "Trade matches created",
			Message: fmt.Sprintf("%d match(es) created from %s", summary.MatchesCreated, msg.SenderEmail),
			Payload: map[string]any{"message_id": msg.ID, "matches_created": summary.MatchesCreated},
		})
		matched.ClientID = summary.ClientID
		p.events.Publish(matched)
	}
	if summary.DuplicatesFound > 0 {
		duplicate := bus.NewEvent(bus.EventDuplicateDetected, bus.PriorityLow, bus.EventData{
			Title:   "Duplicate confirmations detected",
			Message: fmt.Sprintf("%d duplicate(s) reported for %s", summary.DuplicatesFound, msg.SenderEmail),
			Payload: map[string]any{"message_id": msg.ID, "duplicates_found": summary.DuplicatesFound},
		})
		duplicate.ClientID = summary.ClientID
		p.events.Publish(duplicate)
	}
}
