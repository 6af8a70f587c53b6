package store

import (
	"context"
	"errors"

	"github.com/nhle/onebox/internal/model"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// MessageFilter controls filtering and limiting for message queries.
// Results are always sorted by received_at descending.
type MessageFilter struct {
	Account  *string
	Folder   *string
	Category *model.Category

	// Uncategorized selects only records whose category is still absent.
	// Mutually exclusive with Category.
	Uncategorized bool

	// Query is a case-insensitive substring match over subject, body text,
	// and sender.
	Query *string

	Limit int
}

// MessageStore defines the persistence contract for normalized message
// records. Single-record writes are atomic; no cross-record transactions
// are offered or required.
type MessageStore interface {
	// FindByExternalID returns the record with the given external id, or
	// ErrNotFound.
	FindByExternalID(ctx context.Context, externalID string) (*model.Message, error)

	// Create inserts a new record. The external id must not already exist.
	Create(ctx context.Context, msg *model.Message) error

	// Save updates an existing record by internal id. An already-set
	// category is never cleared: saving a message with an empty category
	// leaves the stored category untouched. Read/flag state is not
	// written by Save; it belongs to the read path.
	Save(ctx context.Context, msg *model.Message) error

	// Find returns records matching the filter, newest first.
	Find(ctx context.Context, filter MessageFilter) ([]model.Message, error)

	// FindByID returns the record with the given internal id, or
	// ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.Message, error)
}
