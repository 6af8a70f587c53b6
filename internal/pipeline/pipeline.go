// Package pipeline orchestrates the processing of one fetched message:
// normalize, resolve the category, persist, index, and fan out downstream
// notifications and realtime events.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/classify"
	"github.com/nhle/onebox/internal/events"
	"github.com/nhle/onebox/internal/ingest"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/store"
)

// defaultSweepLimit bounds a re-categorization sweep when the caller
// passes no limit.
const defaultSweepLimit = 100

// Indexer writes a message's searchable fields to the search index.
// Satisfied by the search gateway.
type Indexer interface {
	IndexMessage(ctx context.Context, msg *model.Message) error
}

// Pipeline processes fetched raw messages end to end. It implements
// ingest.MessageSink.
type Pipeline struct {
	store     store.MessageStore
	resolver  *classify.Resolver
	indexer   Indexer
	notifiers []notify.Notifier
	broker    *events.Broker
	log       *logrus.Entry
}

// New creates a Pipeline. notifiers may be empty; broker must not be nil.
func New(
	st store.MessageStore,
	resolver *classify.Resolver,
	indexer Indexer,
	notifiers []notify.Notifier,
	broker *events.Broker,
	log *logrus.Entry,
) *Pipeline {
	return &Pipeline{
		store:     st,
		resolver:  resolver,
		indexer:   indexer,
		notifiers: notifiers,
		broker:    broker,
		log:       log,
	}
}

// ProcessRaw handles one fetched raw message. The returned error reports
// persistence-level failure only; classifier, index, and notification
// problems are logged and swallowed so they never abort the batch.
func (p *Pipeline) ProcessRaw(ctx context.Context, raw *ingest.RawMessage) error {
	msg, hint := ingest.Normalize(raw)
	return p.Upsert(ctx, msg, hint)
}

// Upsert resolves an incoming normalized record against the store by
// external id: an unseen id creates a record (category pre-seeded from
// the label hint), a known id updates every mutable field except the
// category. Either way the record then runs through category resolution
// and the downstream side effects.
func (p *Pipeline) Upsert(
	ctx context.Context,
	incoming *model.Message,
	hint model.Category,
) error {
	record, previous, err := p.mergeOrCreate(ctx, incoming, hint)
	if err != nil {
		return err
	}

	resolved := p.resolver.Resolve(ctx, record, hint)

	if resolved != "" && resolved != previous {
		record.Category = resolved
		if err := p.store.Save(ctx, record); err != nil {
			return fmt.Errorf("persisting category for %s: %w", record.ExternalID, err)
		}
	}

	p.indexAndEmit(ctx, record, previous)
	return nil
}

// mergeOrCreate returns the stored record for the incoming message,
// creating it when the external id is new, along with the category the
// record carried before this processing round (empty for new records:
// the pre-seeded hint counts as this round's assignment).
func (p *Pipeline) mergeOrCreate(
	ctx context.Context,
	incoming *model.Message,
	hint model.Category,
) (*model.Message, model.Category, error) {
	existing, err := p.store.FindByExternalID(ctx, incoming.ExternalID)
	switch {
	case err == nil:
		// Merge mutable fields; category is carried by the existing
		// record and never overwritten here.
		existing.Account = incoming.Account
		existing.Folder = incoming.Folder
		existing.From = incoming.From
		existing.To = incoming.To
		existing.Subject = incoming.Subject
		existing.BodyText = incoming.BodyText
		existing.BodyHTML = incoming.BodyHTML
		existing.ReceivedAt = incoming.ReceivedAt
		existing.Attachments = incoming.Attachments
		if err := p.store.Save(ctx, existing); err != nil {
			return nil, "", fmt.Errorf("updating %s: %w", incoming.ExternalID, err)
		}
		return existing, existing.Category, nil

	case errors.Is(err, store.ErrNotFound):
		incoming.Category = hint
		if err := p.store.Create(ctx, incoming); err != nil {
			return nil, "", fmt.Errorf("creating %s: %w", incoming.ExternalID, err)
		}
		return incoming, "", nil

	default:
		return nil, "", fmt.Errorf("looking up %s: %w", incoming.ExternalID, err)
	}
}

// indexAndEmit performs the post-persist side effects: index write,
// realtime broadcast after a successful index write, and - only when this
// resolution newly landed on Interested - the downstream notifiers.
// Failures here never roll back the persisted record.
func (p *Pipeline) indexAndEmit(
	ctx context.Context,
	record *model.Message,
	previous model.Category,
) {
	if err := p.indexer.IndexMessage(ctx, record); err != nil {
		p.log.WithError(err).WithField("external_id", record.ExternalID).
			Warn("index write failed")
	} else {
		p.broker.Publish(*record)
	}

	newlyInterested := record.Category == model.CategoryInterested &&
		previous != model.CategoryInterested
	if !newlyInterested {
		return
	}

	for _, n := range p.notifiers {
		if err := n.NotifyInterested(ctx, record); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"notifier":    n.Name(),
				"external_id": record.ExternalID,
			}).Warn("notification failed")
		}
	}
}

// SweepResult summarizes one re-categorization sweep.
type SweepResult struct {
	TotalScanned int `json:"total_scanned"`
	Categorized  int `json:"categorized"`
	Failed       int `json:"failed"`
}

// RecategorizeSweep runs categorization over a bounded batch of records
// that still lack a category. Already-categorized records are never
// touched. The batch has no persisted cursor: each invocation re-selects
// the newest uncategorized records up to limit.
func (p *Pipeline) RecategorizeSweep(
	ctx context.Context,
	limit int,
) (SweepResult, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	msgs, err := p.store.Find(ctx, store.MessageFilter{
		Uncategorized: true,
		Limit:         limit,
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("selecting uncategorized records: %w", err)
	}

	result := SweepResult{TotalScanned: len(msgs)}
	for i := range msgs {
		record := &msgs[i]

		resolved := p.resolver.Resolve(ctx, record, "")
		if resolved == "" {
			continue
		}

		record.Category = resolved
		if err := p.store.Save(ctx, record); err != nil {
			result.Failed++
			p.log.WithError(err).WithField("external_id", record.ExternalID).
				Error("sweep: persisting category failed")
			continue
		}

		p.indexAndEmit(ctx, record, "")
		result.Categorized++
	}

	p.log.WithFields(logrus.Fields{
		"scanned":     result.TotalScanned,
		"categorized": result.Categorized,
		"failed":      result.Failed,
	}).Info("re-categorization sweep finished")

	return result, nil
}
