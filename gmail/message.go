package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
)

// decodeBody decodes Gmail part data, which is base64url often without
// padding. Padded input from older gateways still decodes via the fallback.
func decodeBody(data string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

// Header date layouts seen in real confirmation traffic. RFC1123Z covers the
// majority; the rest handle single-digit days and trailing zone names.
var dateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC1123,
	time.RFC822,
}

// hydrate turns a full-format API message into the processor's view,
// fetching attachment bodies as it walks the MIME tree.
func (c *Client) hydrate(ctx context.Context, raw *gmail.Message) (*Message, error) {
	msg := &Message{
		ID:           raw.Id,
		ThreadID:     raw.ThreadId,
		RawHistoryID: raw.HistoryId,
	}
	if raw.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(raw.InternalDate).UTC()
	}
	if raw.Payload == nil {
		return msg, nil
	}

	for _, header := range raw.Payload.Headers {
		switch header.Name {
		case "From":
			msg.SenderEmail = normalizeSender(header.Value)
		case "Subject":
			msg.Subject = header.Value
		case "Date":
			if parsed, ok := parseHeaderDate(header.Value); ok {
				msg.ReceivedAt = parsed.UTC()
			}
		}
	}

	var plain, html []string
	if err := c.walkParts(ctx, raw.Id, raw.Payload, &plain, &html, &msg.Attachments); err != nil {
		return nil, err
	}
	msg.PlainBody = strings.Join(plain, "\n")
	msg.HTMLBody = strings.Join(html, "\n")
	return msg, nil
}

// walkParts visits the MIME tree depth-first. Text parts accumulate into the
// bodies; any part carrying a filename becomes an attachment.
func (c *Client) walkParts(ctx context.Context, messageID string, part *gmail.MessagePart, plain, html *[]string, attachments *[]Attachment) error {
	if part == nil {
		return nil
	}

	if part.Filename != "" {
		att, err := c.loadAttachment(ctx, messageID, part)
		if err != nil {
			return err
		}
		if att != nil {
			*attachments = append(*attachments, *att)
		}
	} else if part.Body != nil && part.Body.Data != "" {
		switch strings.ToLower(part.MimeType) {
		case "text/plain":
			if text, err := decodeBody(part.Body.Data); err == nil {
				*plain = append(*plain, string(text))
			} else {
				c.logger.Warn().Str("message_id", messageID).Err(err).Msg("undecodable text/plain part")
			}
		case "text/html":
			if text, err := decodeBody(part.Body.Data); err == nil {
				*html = append(*html, string(text))
			}
		}
	}

	for _, child := range part.Parts {
		if err := c.walkParts(ctx, messageID, child, plain, html, attachments); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) loadAttachment(ctx context.Context, messageID string, part *gmail.MessagePart) (*Attachment, error) {
	if part.Body == nil {
		return nil, nil
	}
	data := part.Body.Data
	if data == "" && part.Body.AttachmentId != "" {
		fetched, err := c.fetchAttachment(ctx, messageID, part.Body.AttachmentId)
		if err != nil {
			return nil, err
		}
		data = fetched
	}
	if data == "" {
		return nil, nil
	}
	content, err := decodeBody(data)
	if err != nil {
		// A confirmation must not be recorded as delivered with its
		// attachment missing; fail the fetch instead.
		return nil, fmt.Errorf("decode attachment %q on message %s: %w", part.Filename, messageID, err)
	}
	return &Attachment{
		Filename:  part.Filename,
		MimeType:  part.MimeType,
		SizeBytes: int64(len(content)),
		Content:   content,
	}, nil
}

// normalizeSender extracts the bare address from a From header, lowercased.
func normalizeSender(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}

func parseHeaderDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	// Strip a trailing "(TZ)" comment and retry; some gateways emit
	// non-standard zone names there.
	stripped := value
	if open := strings.LastIndex(stripped, " ("); open != -1 {
		if close := strings.LastIndex(stripped, ")"); close > open {
			stripped = strings.TrimSpace(stripped[:open] + stripped[close+1:])
		}
	}
	if stripped != value {
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, stripped); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
