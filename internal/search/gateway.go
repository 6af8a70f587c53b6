package search

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/store"
)

const (
	// resultCap is the maximum number of records a search returns.
	resultCap = 100

	// pingTimeout bounds the index health check.
	pingTimeout = 2 * time.Second

	// healthTTL is how long a positive health check is trusted. A negative
	// result is never cached: the next call re-checks immediately.
	healthTTL = 30 * time.Second
)

// indexMapping is the explicit field-type mapping the target index is
// created with.
var indexMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"external_id": map[string]string{"type": "keyword"},
			"subject":     map[string]string{"type": "text"},
			"body_text":   map[string]string{"type": "text"},
			"from":        map[string]string{"type": "text"},
			"account":     map[string]string{"type": "keyword"},
			"folder":      map[string]string{"type": "keyword"},
			"category":    map[string]string{"type": "keyword"},
			"received_at": map[string]string{"type": "date"},
		},
	},
}

// Filters are the equality filters a search query can carry.
type Filters struct {
	Account  string
	Folder   string
	Category string
}

// messageDoc is the subset of message fields written to the index.
type messageDoc struct {
	ExternalID string `json:"external_id"`
	Subject    string `json:"subject"`
	BodyText   string `json:"body_text"`
	From       string `json:"from"`
	Account    string `json:"account"`
	Folder     string `json:"folder"`
	Category   string `json:"category"`
	ReceivedAt string `json:"received_at"`
}

// Gateway routes searches to the index service when it is healthy and
// falls back to a direct store scan otherwise. Callers cannot observe
// which path served a request.
type Gateway struct {
	index     *IndexClient
	store     store.MessageStore
	indexName string
	log       *logrus.Entry

	mu           sync.Mutex
	healthyUntil time.Time
	bootstrapped bool
}

// NewGateway creates a Gateway over the given index client and store.
func NewGateway(
	index *IndexClient,
	st store.MessageStore,
	indexName string,
	log *logrus.Entry,
) *Gateway {
	return &Gateway{
		index:     index,
		store:     st,
		indexName: indexName,
		log:       log,
	}
}

// IndexMessage writes the message's searchable fields to the index under
// its external id. Failures are returned for the caller to log; they never
// affect the persisted record.
func (g *Gateway) IndexMessage(ctx context.Context, msg *model.Message) error {
	if err := g.ensureIndex(ctx); err != nil {
		return err
	}

	doc := messageDoc{
		ExternalID: msg.ExternalID,
		Subject:    msg.Subject,
		BodyText:   msg.BodyText,
		From:       msg.From,
		Account:    msg.Account,
		Folder:     msg.Folder,
		Category:   string(msg.Category),
		ReceivedAt: msg.ReceivedAt.UTC().Format(time.RFC3339),
	}
	return g.index.IndexDocument(ctx, g.indexName, msg.ExternalID, doc)
}

// Search returns records matching the free-text query and filters, newest
// first, capped at 100. It serves from the index when healthy and from a
// store scan otherwise; the contract is identical either way.
func (g *Gateway) Search(
	ctx context.Context,
	query string,
	filters Filters,
) ([]model.Message, error) {
	if !g.healthy(ctx) {
		return g.fallbackScan(ctx, query, filters)
	}

	if err := g.ensureIndex(ctx); err != nil {
		g.log.WithError(err).Warn("index bootstrap failed, serving from store scan")
		return g.fallbackScan(ctx, query, filters)
	}

	results, err := g.indexSearch(ctx, query, filters)
	if err != nil {
		g.log.WithError(err).Warn("index search failed, serving from store scan")
		// The index may have vanished between the exists check and the
		// query; try to recreate it for next time, still serving this
		// request from the fallback path.
		g.recreateIndex(ctx)
		return g.fallbackScan(ctx, query, filters)
	}

	return results, nil
}

// healthy pings the index service with a short timeout, caching a positive
// answer for healthTTL.
func (g *Gateway) healthy(ctx context.Context) bool {
	g.mu.Lock()
	if time.Now().Before(g.healthyUntil) {
		g.mu.Unlock()
		return true
	}
	g.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := g.index.Ping(pingCtx); err != nil {
		g.log.WithError(err).Debug("index service unhealthy")
		return false
	}

	g.mu.Lock()
	g.healthyUntil = time.Now().Add(healthTTL)
	g.mu.Unlock()
	return true
}

// ensureIndex creates the target index with its mapping if it does not
// exist yet. The positive outcome is remembered for the process lifetime.
func (g *Gateway) ensureIndex(ctx context.Context) error {
	g.mu.Lock()
	done := g.bootstrapped
	g.mu.Unlock()
	if done {
		return nil
	}

	exists, err := g.index.IndexExists(ctx, g.indexName)
	if err != nil {
		return err
	}
	if !exists {
		if err := g.index.CreateIndex(ctx, g.indexName, indexMapping); err != nil {
			return err
		}
		g.log.WithField("index", g.indexName).Info("created search index")
	}

	g.mu.Lock()
	g.bootstrapped = true
	g.mu.Unlock()
	return nil
}

// recreateIndex makes a one-time attempt to rebuild a missing index after
// a failed search. Errors are logged and dropped; the current request is
// already being served from the fallback.
func (g *Gateway) recreateIndex(ctx context.Context) {
	g.mu.Lock()
	g.bootstrapped = false
	g.mu.Unlock()

	if err := g.ensureIndex(ctx); err != nil {
		g.log.WithError(err).Debug("index recreate attempt failed")
	}
}

// indexSearch runs the bool query and resolves hits back to full records
// through the store, preserving hit order.
func (g *Gateway) indexSearch(
	ctx context.Context,
	query string,
	filters Filters,
) ([]model.Message, error) {
	must := []interface{}{
		map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"subject^2", "body_text", "from"},
			},
		},
	}

	var filter []interface{}
	for field, value := range map[string]string{
		"account":  filters.Account,
		"folder":   filters.Folder,
		"category": filters.Category,
	} {
		if value != "" {
			filter = append(filter, map[string]interface{}{
				"term": map[string]string{field: value},
			})
		}
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
		"sort": []interface{}{
			map[string]string{"received_at": "desc"},
		},
		"size": resultCap,
	}

	sources, err := g.index.Search(ctx, g.indexName, body)
	if err != nil {
		return nil, err
	}

	results := make([]model.Message, 0, len(sources))
	for _, src := range sources {
		var doc messageDoc
		if err := json.Unmarshal(src, &doc); err != nil {
			g.log.WithError(err).Warn("skipping malformed search hit")
			continue
		}

		record, err := g.store.FindByExternalID(ctx, doc.ExternalID)
		if err != nil {
			// The index is eventually consistent; a hit may point at a
			// record the store no longer has.
			g.log.WithField("external_id", doc.ExternalID).
				Debug("search hit has no stored record")
			continue
		}
		results = append(results, *record)
	}

	return results, nil
}

// fallbackScan serves the query from the store with case-insensitive
// substring matching and the same filters, sort, and cap.
func (g *Gateway) fallbackScan(
	ctx context.Context,
	query string,
	filters Filters,
) ([]model.Message, error) {
	mf := store.MessageFilter{
		Query: &query,
		Limit: resultCap,
	}
	if filters.Account != "" {
		mf.Account = &filters.Account
	}
	if filters.Folder != "" {
		mf.Folder = &filters.Folder
	}
	if filters.Category != "" {
		category := model.Category(filters.Category)
		mf.Category = &category
	}

	return g.store.Find(ctx, mf)
}
