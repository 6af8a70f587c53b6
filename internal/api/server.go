// Package api exposes the message pipeline over HTTP: stored message
// queries, search, a re-categorization trigger, and a realtime event
// stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/events"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/pipeline"
	"github.com/nhle/onebox/internal/search"
	"github.com/nhle/onebox/internal/store"
)

// Searcher answers free-text queries over the message corpus. Satisfied
// by the search gateway.
type Searcher interface {
	Search(ctx context.Context, query string, filters search.Filters) ([]model.Message, error)
}

// Sweeper triggers a bounded re-categorization pass. Satisfied by the
// processing pipeline.
type Sweeper interface {
	RecategorizeSweep(ctx context.Context, limit int) (pipeline.SweepResult, error)
}

// Handler holds the shared dependencies of all HTTP handlers.
type Handler struct {
	store    store.MessageStore
	searcher Searcher
	sweeper  Sweeper
	broker   *events.Broker
	log      *logrus.Entry
}

// NewHandler creates a Handler over the given dependencies.
func NewHandler(
	st store.MessageStore,
	searcher Searcher,
	sweeper Sweeper,
	broker *events.Broker,
	log *logrus.Entry,
) *Handler {
	return &Handler{
		store:    st,
		searcher: searcher,
		sweeper:  sweeper,
		broker:   broker,
		log:      log,
	}
}

// Router builds the chi router with middleware and all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/messages", h.ListMessages)
		r.Get("/messages/{id}", h.GetMessage)
		r.Get("/search", h.Search)
		r.Post("/recategorize", h.Recategorize)
		r.Get("/events", h.Events)
	})

	return r
}

// requestLogger logs one structured line per completed request.
func requestLogger(log *logrus.Entry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"latency_ms": time.Since(start).Milliseconds(),
					"request_id": middleware.GetReqID(r.Context()),
				}).Info("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
