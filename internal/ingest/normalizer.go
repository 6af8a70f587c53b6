package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/onebox/internal/model"
)

// missingSubject is the placeholder recorded when the source message
// carries no subject.
const missingSubject = "(no subject)"

// RawMessage is one fetched protocol message plus the metadata observed
// alongside it. The connector builds it from a fetch reply; the pipeline
// normalizes it.
type RawMessage struct {
	Account      string
	Folder       string
	SeqNum       uint32
	UID          imap.UID
	Envelope     *imap.Envelope
	Flags        []imap.Flag
	Body         []byte
	InternalDate time.Time
	FetchedAt    time.Time
}

// Normalize parses a raw fetched message into the canonical record shape
// and derives the provider label hint. It never fails: unparseable bodies
// degrade to plain text, missing fields get placeholders or defaults.
func Normalize(raw *RawMessage) (*model.Message, model.Category) {
	msg := &model.Message{
		ExternalID: externalID(raw),
		Account:    raw.Account,
		Folder:     raw.Folder,
		Subject:    missingSubject,
		ReceivedAt: receivedAt(raw),
	}

	if raw.Envelope != nil {
		if raw.Envelope.Subject != "" {
			msg.Subject = raw.Envelope.Subject
		}
		if len(raw.Envelope.From) > 0 {
			msg.From = raw.Envelope.From[0].Addr()
		}
		for _, to := range raw.Envelope.To {
			msg.To = append(msg.To, to.Addr())
		}
	}

	if len(raw.Body) > 0 {
		textBody, htmlBody, attachments := parseMIMEBody(raw.Body)
		msg.BodyText = textBody
		msg.BodyHTML = htmlBody
		msg.Attachments = attachments
	}

	return msg, labelHint(raw.Flags)
}

// externalID derives the dedup key from the message's native identifier.
// Messages without a Message-ID get a deterministic session-local id; see
// synthesizeExternalID.
func externalID(raw *RawMessage) string {
	if raw.Envelope != nil && raw.Envelope.MessageID != "" {
		return raw.Envelope.MessageID
	}
	return synthesizeExternalID(raw)
}

// synthesizeExternalID builds an id from the account, fetch timestamp, and
// protocol sequence number. Re-processing the same raw message within one
// session yields the same id, but the id is NOT stable across sessions:
// after a reconnect the same physical message can synthesize a different
// id and produce a duplicate record. Known gap, inherited from the dedup
// key scheme.
func synthesizeExternalID(raw *RawMessage) string {
	return fmt.Sprintf("imap-%s-%d-%d", raw.Account, raw.FetchedAt.Unix(), raw.SeqNum)
}

// receivedAt prefers the envelope date, then the server's internal date,
// and only defaults to ingestion time when the source supplies neither.
func receivedAt(raw *RawMessage) time.Time {
	if raw.Envelope != nil && !raw.Envelope.Date.IsZero() {
		return raw.Envelope.Date
	}
	if !raw.InternalDate.IsZero() {
		return raw.InternalDate
	}
	return raw.FetchedAt
}

// labelHint translates provider-native flags into a category through a
// conservative allow-list. Ambiguous provider labels are deliberately not
// guessed; anything unrecognized produces no hint and is left to the
// later resolver stages.
func labelHint(flags []imap.Flag) model.Category {
	for _, flag := range flags {
		switch strings.ToLower(strings.TrimPrefix(string(flag), "\\")) {
		case "junk", "$junk", "spam":
			return model.CategorySpam
		case "interested", "$interested":
			return model.CategoryInterested
		}
	}
	return ""
}

// parseMIMEBody parses a raw RFC 2822 message body using go-message
// and extracts the text/plain body, text/html body, and attachment
// metadata. Attachment content is read only to measure it.
func parseMIMEBody(raw []byte) (
	textBody string, htmlBody string, attachments []model.Attachment,
) {
	reader := bytes.NewReader(raw)

	mr, err := mail.CreateReader(reader)
	if err != nil {
		// If parsing fails, try treating the whole thing as plain text
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, model.Attachment{
				Filename:  filename,
				SizeBytes: int64(len(body)),
			})
		}
	}

	return textBody, htmlBody, attachments
}
