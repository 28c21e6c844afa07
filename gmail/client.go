package gmail

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
)

// Client wraps the Gmail service with the mailbox identity, a hard per-call
// timeout, and bounded retry with backoff for transient failures.
type Client struct {
	srv      *gmail.Service
	userID   string
	timeout  time.Duration
	retryCap int
	logger   zerolog.Logger
}

// NewClient builds a Client over acquired credentials.
func NewClient(ctx context.Context, creds *Credentials, timeout time.Duration, retryCap int, logger zerolog.Logger) (*Client, error) {
	srv, err := creds.NewService(ctx)
	if err != nil {
		return nil, err
	}
	return &Client{
		srv:      srv,
		userID:   creds.UserID(),
		timeout:  timeout,
		retryCap: retryCap,
		logger:   logger.With().Str("component", "gmail-client").Logger(),
	}, nil
}

// Profile returns the mailbox's current history id.
func (c *Client) Profile(ctx context.Context) (uint64, error) {
	var profile *gmail.Profile
	err := c.withRetry(ctx, "getProfile", func(callCtx context.Context) error {
		var err error
		profile, err = c.srv.Users.GetProfile(c.userID).Context(callCtx).Do()
		return err
	})
	if err != nil {
		if isDelegationDenied(err) {
			return 0, fmt.Errorf("%w: %v", ErrDelegationDenied, err)
		}
		return 0, fmt.Errorf("get profile: %w", err)
	}
	return profile.HistoryId, nil
}

// History lists messageAdded records strictly after startID. It pages through
// the full delta and returns the entries plus Gmail's latest known history id.
// A vanished start id maps to ErrHistoryExpired.
func (c *Client) History(ctx context.Context, startID uint64) ([]HistoryEntry, uint64, error) {
	var entries []HistoryEntry
	var latest uint64
	pageToken := ""
	for {
		var resp *gmail.ListHistoryResponse
		err := c.withRetry(ctx, "history.list", func(callCtx context.Context) error {
			call := c.srv.Users.History.List(c.userID).
				StartHistoryId(startID).
				HistoryTypes("messageAdded").
				Context(callCtx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			if isHistoryExpired(err) {
				return nil, 0, ErrHistoryExpired
			}
			return nil, 0, fmt.Errorf("list history: %w", err)
		}

		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}
		for _, h := range resp.History {
			entry := HistoryEntry{ID: h.Id}
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				entry.Added = append(entry.Added, MessageRef{
					ID:        added.Message.Id,
					ThreadID:  added.Message.ThreadId,
					HistoryID: h.Id,
				})
			}
			entries = append(entries, entry)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return entries, latest, nil
		}
	}
}

// RecentRefs lists up to limit recent message ids, optionally bounded to
// messages received after the given checkpoint. Used by the fallback scan.
func (c *Client) RecentRefs(ctx context.Context, limit int64, after time.Time) ([]MessageRef, error) {
	query := "in:inbox -in:draft"
	if !after.IsZero() {
		query = fmt.Sprintf("%s after:%d", query, after.Unix())
	}
	var resp *gmail.ListMessagesResponse
	err := c.withRetry(ctx, "messages.list", func(callCtx context.Context) error {
		var err error
		resp, err = c.srv.Users.Messages.List(c.userID).
			MaxResults(limit).
			Q(query).
			Context(callCtx).
			Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	refs := make([]MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return refs, nil
}

// FetchMessage retrieves the full message and hydrates headers, bodies, and
// attachments. Deleted messages map to ErrMessageNotFound.
func (c *Client) FetchMessage(ctx context.Context, ref MessageRef) (*Message, error) {
	var raw *gmail.Message
	err := c.withRetry(ctx, "messages.get", func(callCtx context.Context) error {
		var err error
		raw, err = c.srv.Users.Messages.Get(c.userID, ref.ID).Format("full").Context(callCtx).Do()
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message %s: %w", ref.ID, err)
	}
	return c.hydrate(ctx, raw)
}

func (c *Client) fetchAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	var body *gmail.MessagePartBody
	err := c.withRetry(ctx, "attachments.get", func(callCtx context.Context) error {
		var err error
		body, err = c.srv.Users.Messages.Attachments.Get(c.userID, messageID, attachmentID).
			Context(callCtx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get attachment %s/%s: %w", messageID, attachmentID, err)
	}
	return body.Data, nil
}

// withRetry runs one API call under the per-call timeout, retrying transient
// failures with exponential backoff and jitter up to the retry cap.
func (c *Client) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || attempt >= c.retryCap {
			return lastErr
		}

		delay := backoffDelay(attempt)
		c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).
			Dur("backoff", delay).Msg("transient Gmail error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns base*2^attempt capped at backoffCap, with up to 50%
// added jitter.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << uint(attempt)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	if delay+jitter > backoffCap {
		return backoffCap
	}
	return delay + jitter
}

func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

// isHistoryExpired recognizes the 404 Gmail issues when the start history id
// has aged out of the change log. messages.get shares the status code but not
// the call site, so this is only consulted for history.list.
func isHistoryExpired(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func isDelegationDenied(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == 403 {
		return true
	}
	return apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "delegation")
}
