package gmail

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

// rawB64 encodes without padding, the way the Gmail API emits part data.
func rawB64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestHydrateMultipart(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}
	raw := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		HistoryId:    42,
		InternalDate: 1700000000000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Mesa Dinero <FX.Desk@Banco.CL>"},
				{Name: "Subject", Value: "Confirmación operación 8812"},
				{Name: "Date", Value: "Mon, 2 Jan 2023 15:04:05 -0300"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("USD/CLP spot 912.50")}},
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>USD/CLP spot 912.50</p>")}},
					},
				},
				{
					MimeType: "application/pdf",
					Filename: "confirmation.pdf",
					Body:     &gmail.MessagePartBody{Data: b64("%PDF-1.4 fake")},
				},
			},
		},
	}

	msg, err := c.hydrate(context.Background(), raw)
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if msg.SenderEmail != "fx.desk@banco.cl" {
		t.Errorf("SenderEmail = %q", msg.SenderEmail)
	}
	if msg.Subject != "Confirmación operación 8812" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.PlainBody != "USD/CLP spot 912.50" {
		t.Errorf("PlainBody = %q", msg.PlainBody)
	}
	if msg.HTMLBody != "<p>USD/CLP spot 912.50</p>" {
		t.Errorf("HTMLBody = %q", msg.HTMLBody)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "confirmation.pdf" || att.MimeType != "application/pdf" {
		t.Errorf("attachment = %+v", att)
	}
	if string(att.Content) != "%PDF-1.4 fake" || att.SizeBytes != int64(len("%PDF-1.4 fake")) {
		t.Errorf("attachment content = %q (%d bytes)", att.Content, att.SizeBytes)
	}
	if msg.RawHistoryID != 42 {
		t.Errorf("RawHistoryID = %d", msg.RawHistoryID)
	}
	want := time.Date(2023, 1, 2, 18, 4, 5, 0, time.UTC)
	if !msg.ReceivedAt.Equal(want) {
		t.Errorf("ReceivedAt = %v, want %v", msg.ReceivedAt, want)
	}
}

func TestHydrateUnpaddedBodies(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}
	body := "USD/CLP spot 912.50"
	pdf := "%PDF-1.4 fake"
	if len(rawB64(body))%4 == 0 || len(rawB64(pdf))%4 == 0 {
		t.Fatal("fixture must exercise unpadded lengths")
	}
	raw := &gmail.Message{
		Id: "m3",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: rawB64(body)}},
				{
					MimeType: "application/pdf",
					Filename: "confirmation.pdf",
					Body:     &gmail.MessagePartBody{Data: rawB64(pdf)},
				},
			},
		},
	}

	msg, err := c.hydrate(context.Background(), raw)
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if msg.PlainBody != body {
		t.Errorf("PlainBody = %q, want %q", msg.PlainBody, body)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(msg.Attachments))
	}
	if string(msg.Attachments[0].Content) != pdf {
		t.Errorf("attachment content = %q", msg.Attachments[0].Content)
	}
}

func TestHydrateCorruptAttachmentFails(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}
	raw := &gmail.Message{
		Id: "m4",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{
					MimeType: "application/pdf",
					Filename: "confirmation.pdf",
					Body:     &gmail.MessagePartBody{Data: "!!not base64!!"},
				},
			},
		},
	}
	if _, err := c.hydrate(context.Background(), raw); err == nil {
		t.Fatal("hydrate should fail rather than drop an undecodable attachment")
	}
}

func TestHydrateEmptyPayload(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}
	msg, err := c.hydrate(context.Background(), &gmail.Message{Id: "m2", InternalDate: 1700000000000})
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if msg.ID != "m2" || msg.PlainBody != "" || len(msg.Attachments) != 0 {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should fall back to internal date")
	}
}

func TestNormalizeSender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Mesa Dinero <FX.Desk@Banco.CL>", "fx.desk@banco.cl"},
		{"ops@banco.cl", "ops@banco.cl"},
		{"  Broken Header  ", "broken header"},
	}
	for _, tt := range tests {
		if got := normalizeSender(tt.in); got != tt.want {
			t.Errorf("normalizeSender(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseHeaderDate(t *testing.T) {
	tests := []string{
		"Mon, 02 Jan 2023 15:04:05 -0300",
		"Mon, 2 Jan 2023 15:04:05 -0300 (CLST)",
		"2 Jan 2023 15:04:05 -0300",
	}
	for _, value := range tests {
		if _, ok := parseHeaderDate(value); !ok {
			t.Errorf("parseHeaderDate(%q) failed", value)
		}
	}
	if _, ok := parseHeaderDate("not a date"); ok {
		t.Error("parseHeaderDate accepted garbage")
	}
}
