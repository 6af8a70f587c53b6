package model

import (
	"strings"
	"time"
)

// Category is the closed set of intent labels a message can resolve to.
type Category string

const (
	CategoryInterested    Category = "Interested"
	CategoryMeetingBooked Category = "MeetingBooked"
	CategoryNotInterested Category = "NotInterested"
	CategorySpam          Category = "Spam"
	CategoryOutOfOffice   Category = "OutOfOffice"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategoryInterested,
	CategoryMeetingBooked,
	CategoryNotInterested,
	CategorySpam,
	CategoryOutOfOffice,
}

// ParseCategory matches s case-insensitively against the known categories.
// It returns the canonical category and true on a match, or "" and false
// for anything else (empty, unknown, malformed).
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// Attachment holds metadata about a message attachment. Attachment bytes
// are never retained by the pipeline.
type Attachment struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

// Message is the canonical normalized mail record - the unit the pipeline
// ingests, categorizes, persists, and indexes.
type Message struct {
	// ID is the internal unique identifier for this record.
	ID string `json:"id"`

	// ExternalID is the stable identifier supplied by the mail protocol
	// (or synthesized when absent). Unique per store; the upsert/dedup key
	// and the search index document id.
	ExternalID string `json:"external_id"`

	// Account is the owning mailbox identity.
	Account string `json:"account"`

	// Folder is the source folder name.
	Folder string `json:"folder"`

	// From is the sender address string.
	From string `json:"from"`

	// To is the ordered list of recipient addresses.
	To []string `json:"to"`

	// Subject is the message subject; "(no subject)" when the source
	// supplies none.
	Subject string `json:"subject"`

	// BodyText and BodyHTML hold the message bodies; either may be empty.
	BodyText string `json:"body_text"`
	BodyHTML string `json:"body_html"`

	// ReceivedAt is the timestamp used for all chronological sorting and
	// filtering. Defaults to ingestion time only when the source message
	// carries no date.
	ReceivedAt time.Time `json:"received_at"`

	// Category is the resolved intent label, or empty when the record has
	// not been categorized yet.
	Category Category `json:"category,omitempty"`

	// IsRead and IsFlagged are owned by the read path. The pipeline sets
	// them false at creation and never writes them afterwards.
	IsRead    bool `json:"is_read"`
	IsFlagged bool `json:"is_flagged"`

	// Attachments holds filename/size metadata only.
	Attachments []Attachment `json:"attachments,omitempty"`

	// CreatedAt and UpdatedAt are store bookkeeping timestamps.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
