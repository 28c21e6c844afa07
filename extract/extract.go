// Package extract defines the boundary to the confirmation-extraction
// collaborator. The ingestion core hands over hydrated messages and only
// counts what comes back; interpreting trade contents happens downstream.
package extract

import (
	"context"

	"github.com/condorfx/mailroom/gmail"
)

// Summary is what the collaborator reports for one message.
type Summary struct {
	TradesExtracted int
	MatchesCreated  int
	DuplicatesFound int
	ClientID        string
	Details         map[string]any
}

// Extractor processes one confirmation email. Implementations may be slow;
// they are called with the message's sender, subject, bodies, and decoded
// attachments and must honor ctx cancellation.
type Extractor interface {
	Extract(ctx context.Context, msg *gmail.Message) (*Summary, error)
}

// Func adapts a plain function to the Extractor interface.
type Func func(ctx context.Context, msg *gmail.Message) (*Summary, error)

func (f Func) Extract(ctx context.Context, msg *gmail.Message) (*Summary, error) {
	return f(ctx, msg)
}

// Discard acknowledges every message without extracting anything. Used when
// the core runs stand-alone, e.g. from the check subcommand.
var Discard Extractor = Func(func(ctx context.Context, msg *gmail.Message) (*Summary, error) {
	return &Summary{}, nil
})
