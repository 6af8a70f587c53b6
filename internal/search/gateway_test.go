package search_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/search"
	"github.com/nhle/onebox/internal/store"
	"github.com/nhle/onebox/tests/testutil"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func seedMessages(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	records := []*model.Message{
		{
			ExternalID: "<hit-1@x>", Account: "a@example.com", Folder: "INBOX",
			From: "lead@corp.com", Subject: "Pricing question",
			BodyText: "what does the enterprise tier cost",
			ReceivedAt: base.Add(2 * time.Hour),
		},
		{
			ExternalID: "<hit-2@x>", Account: "a@example.com", Folder: "INBOX",
			From: "other@corp.com", Subject: "Pricing sheet attached",
			BodyText: "see attachment", ReceivedAt: base.Add(1 * time.Hour),
			Category: model.CategoryInterested,
		},
		{
			ExternalID: "<miss@x>", Account: "b@example.com", Folder: "INBOX",
			From: "noise@corp.com", Subject: "Lunch plans",
			BodyText: "burgers?", ReceivedAt: base,
		},
	}
	for _, r := range records {
		if err := s.Create(context.Background(), r); err != nil {
			t.Fatalf("seeding %s: %v", r.ExternalID, err)
		}
	}
}

// fakeIndex is an httptest handler imitating the slice of the index
// service API the gateway touches.
type fakeIndex struct {
	exists      atomic.Bool
	createCalls atomic.Int32
	searchFails atomic.Bool
	hits        []string // external ids returned by _search, in order
}

func (f *fakeIndex) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/" && r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodHead:
			if f.exists.Load() {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut && !strings.Contains(r.URL.Path, "/_doc/"):
			f.createCalls.Add(1)
			f.exists.Store(true)
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/_search"):
			if f.searchFails.Load() {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"error": {"type": "index_not_found_exception"}}`)
				return
			}
			var hits []map[string]interface{}
			for _, id := range f.hits {
				hits = append(hits, map[string]interface{}{
					"_id":     id,
					"_source": map[string]string{"external_id": id},
				})
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"hits": map[string]interface{}{"hits": hits},
			})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

func TestSearchIndexPath(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedMessages(t, s)

	fake := &fakeIndex{hits: []string{"<hit-1@x>", "<hit-2@x>", "<gone@x>"}}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	g := search.NewGateway(search.NewIndexClient(srv.URL), s, "msgs", testLogger())

	got, err := g.Search(context.Background(), "pricing", search.Filters{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	// The index did not exist; the gateway must have bootstrapped it.
	if fake.createCalls.Load() != 1 {
		t.Errorf("index created %d times, want 1", fake.createCalls.Load())
	}

	// Hits resolve to stored records in hit order; hits without a stored
	// record are dropped silently.
	if len(got) != 2 {
		t.Fatalf("Search() returned %d records, want 2", len(got))
	}
	if got[0].ExternalID != "<hit-1@x>" || got[1].ExternalID != "<hit-2@x>" {
		t.Errorf("Search() order = [%s %s], want [<hit-1@x> <hit-2@x>]",
			got[0].ExternalID, got[1].ExternalID)
	}
}

func TestSearchFallbackWhenUnreachable(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedMessages(t, s)

	// A server that is immediately closed: every ping fails.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	g := search.NewGateway(search.NewIndexClient(srv.URL), s, "msgs", testLogger())

	got, err := g.Search(context.Background(), "pricing", search.Filters{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("fallback returned %d records, want 2", len(got))
	}
	// Store scan also sorts newest first.
	if got[0].ExternalID != "<hit-1@x>" || got[1].ExternalID != "<hit-2@x>" {
		t.Errorf("fallback order = [%s %s], want [<hit-1@x> <hit-2@x>]",
			got[0].ExternalID, got[1].ExternalID)
	}
}

func TestSearchFallbackFilters(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedMessages(t, s)

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	g := search.NewGateway(search.NewIndexClient(srv.URL), s, "msgs", testLogger())

	got, err := g.Search(context.Background(), "pricing", search.Filters{
		Account:  "a@example.com",
		Category: string(model.CategoryInterested),
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "<hit-2@x>" {
		t.Errorf("filtered fallback = %v, want only <hit-2@x>", got)
	}
}

func TestSearchErrorTriggersRecreateAndFallback(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedMessages(t, s)

	fake := &fakeIndex{}
	fake.exists.Store(true)
	fake.searchFails.Store(true)
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	g := search.NewGateway(search.NewIndexClient(srv.URL), s, "msgs", testLogger())

	got, err := g.Search(context.Background(), "pricing", search.Filters{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	// Served from the store scan despite the index error.
	if len(got) != 2 {
		t.Fatalf("Search() returned %d records, want 2 from fallback", len(got))
	}
}

// For a fixed corpus and substring-exact query, both paths must agree on
// the set of matching external ids.
func TestSearchPathEquivalence(t *testing.T) {
	s := testutil.NewTestStore(t)
	seedMessages(t, s)

	wantIDs := map[string]bool{"<hit-1@x>": true, "<hit-2@x>": true}

	// Index path.
	fake := &fakeIndex{hits: []string{"<hit-2@x>", "<hit-1@x>"}}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	indexed := search.NewGateway(search.NewIndexClient(srv.URL), s, "msgs", testLogger())
	fromIndex, err := indexed.Search(context.Background(), "pricing", search.Filters{})
	if err != nil {
		t.Fatalf("index path error: %v", err)
	}

	// Fallback path.
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	scanning := search.NewGateway(search.NewIndexClient(down.URL), s, "msgs", testLogger())
	fromScan, err := scanning.Search(context.Background(), "pricing", search.Filters{})
	if err != nil {
		t.Fatalf("fallback path error: %v", err)
	}

	for name, results := range map[string][]model.Message{
		"index": fromIndex, "scan": fromScan,
	} {
		gotIDs := make(map[string]bool)
		for _, m := range results {
			gotIDs[m.ExternalID] = true
		}
		if len(gotIDs) != len(wantIDs) {
			t.Errorf("%s path matched %v, want %v", name, gotIDs, wantIDs)
			continue
		}
		for id := range wantIDs {
			if !gotIDs[id] {
				t.Errorf("%s path missing %s", name, id)
			}
		}
	}
}
