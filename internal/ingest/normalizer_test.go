package ingest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/onebox/internal/model"
)

func rawWithEnvelope(env *imap.Envelope) *RawMessage {
	return &RawMessage{
		Account:   "sales@example.com",
		Folder:    "INBOX",
		SeqNum:    7,
		UID:       42,
		Envelope:  env,
		FetchedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeEnvelopeFields(t *testing.T) {
	date := time.Date(2026, 4, 30, 16, 45, 0, 0, time.UTC)
	raw := rawWithEnvelope(&imap.Envelope{
		MessageID: "<abc@mail.example.com>",
		Subject:   "Demo request",
		Date:      date,
		From: []imap.Address{
			{Name: "Alice", Mailbox: "alice", Host: "corp.com"},
		},
		To: []imap.Address{
			{Mailbox: "sales", Host: "example.com"},
			{Mailbox: "team", Host: "example.com"},
		},
	})

	msg, hint := Normalize(raw)

	if msg.ExternalID != "<abc@mail.example.com>" {
		t.Errorf("ExternalID = %q, want native Message-ID", msg.ExternalID)
	}
	if msg.Subject != "Demo request" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.From != "alice@corp.com" {
		t.Errorf("From = %q, want alice@corp.com", msg.From)
	}
	if len(msg.To) != 2 || msg.To[0] != "sales@example.com" || msg.To[1] != "team@example.com" {
		t.Errorf("To = %v, order must be preserved", msg.To)
	}
	if !msg.ReceivedAt.Equal(date) {
		t.Errorf("ReceivedAt = %v, want envelope date", msg.ReceivedAt)
	}
	if hint != "" {
		t.Errorf("hint = %q, want none", hint)
	}
	if msg.Account != "sales@example.com" || msg.Folder != "INBOX" {
		t.Errorf("account/folder = %q/%q", msg.Account, msg.Folder)
	}
}

func TestNormalizeSynthesizedID(t *testing.T) {
	raw := rawWithEnvelope(&imap.Envelope{Subject: "no id"})

	msg, _ := Normalize(raw)
	want := fmt.Sprintf("imap-sales@example.com-%d-7", raw.FetchedAt.Unix())
	if msg.ExternalID != want {
		t.Errorf("ExternalID = %q, want %q", msg.ExternalID, want)
	}

	// Re-normalizing the same raw message yields the same id.
	again, _ := Normalize(raw)
	if again.ExternalID != msg.ExternalID {
		t.Error("synthesized id is not deterministic within a session")
	}
}

func TestNormalizeMissingFields(t *testing.T) {
	raw := rawWithEnvelope(&imap.Envelope{})

	msg, _ := Normalize(raw)

	if msg.Subject != "(no subject)" {
		t.Errorf("Subject = %q, want placeholder", msg.Subject)
	}
	if msg.BodyText != "" || msg.BodyHTML != "" {
		t.Error("missing bodies must normalize to empty strings")
	}
	// No envelope date and no internal date: fall back to fetch time.
	if !msg.ReceivedAt.Equal(raw.FetchedAt) {
		t.Errorf("ReceivedAt = %v, want fetch time", msg.ReceivedAt)
	}
}

func TestNormalizeInternalDateFallback(t *testing.T) {
	raw := rawWithEnvelope(&imap.Envelope{Subject: "x"})
	raw.InternalDate = time.Date(2026, 4, 29, 0, 0, 0, 0, time.UTC)

	msg, _ := Normalize(raw)
	if !msg.ReceivedAt.Equal(raw.InternalDate) {
		t.Errorf("ReceivedAt = %v, want internal date", msg.ReceivedAt)
	}
}

func TestNormalizePlainBody(t *testing.T) {
	body := strings.Join([]string{
		"From: alice@corp.com",
		"To: sales@example.com",
		"Subject: hi",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Just checking in.",
	}, "\r\n")

	raw := rawWithEnvelope(&imap.Envelope{Subject: "hi"})
	raw.Body = []byte(body)

	msg, _ := Normalize(raw)
	if !strings.Contains(msg.BodyText, "Just checking in.") {
		t.Errorf("BodyText = %q, want plain body", msg.BodyText)
	}
}

func TestNormalizeMultipartWithAttachment(t *testing.T) {
	body := strings.Join([]string{
		"From: alice@corp.com",
		"To: sales@example.com",
		"Subject: docs",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"See attachment.",
		"--frontier",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="quote.pdf"`,
		"",
		"%PDF-fake-content",
		"--frontier--",
		"",
	}, "\r\n")

	raw := rawWithEnvelope(&imap.Envelope{Subject: "docs"})
	raw.Body = []byte(body)

	msg, _ := Normalize(raw)

	if !strings.Contains(msg.BodyText, "See attachment.") {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "quote.pdf" {
		t.Errorf("attachment filename = %q", att.Filename)
	}
	if att.SizeBytes != int64(len("%PDF-fake-content")) {
		t.Errorf("attachment size = %d", att.SizeBytes)
	}
}

func TestLabelHint(t *testing.T) {
	tests := []struct {
		name  string
		flags []imap.Flag
		want  model.Category
	}{
		{"junk flag", []imap.Flag{"\\Junk"}, model.CategorySpam},
		{"dollar junk keyword", []imap.Flag{"$Junk"}, model.CategorySpam},
		{"spam label", []imap.Flag{"Spam"}, model.CategorySpam},
		{"interested custom label", []imap.Flag{"Interested"}, model.CategoryInterested},
		{"seen flag is not a hint", []imap.Flag{imap.FlagSeen}, ""},
		{"unrecognized label produces no hint", []imap.Flag{"Important"}, ""},
		{"no flags", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := labelHint(tt.flags); got != tt.want {
				t.Errorf("labelHint(%v) = %q, want %q", tt.flags, got, tt.want)
			}
		})
	}
}
