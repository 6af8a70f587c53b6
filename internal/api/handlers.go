package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/search"
	"github.com/nhle/onebox/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// sseHeartbeat keeps idle event streams alive through proxies.
	sseHeartbeat = 30 * time.Second
)

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Warn("writing response body")
	}
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListMessages returns stored messages newest first, filtered by the
// optional account, folder, category, and uncategorized query parameters.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	filter := store.MessageFilter{Limit: limitParam(r, defaultListLimit)}

	if v := r.URL.Query().Get("account"); v != "" {
		filter.Account = &v
	}
	if v := r.URL.Query().Get("folder"); v != "" {
		filter.Folder = &v
	}
	if v := r.URL.Query().Get("category"); v != "" {
		category, ok := model.ParseCategory(v)
		if !ok {
			h.Error(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", v))
			return
		}
		filter.Category = &category
	}
	if r.URL.Query().Get("uncategorized") == "true" {
		if filter.Category != nil {
			h.Error(w, http.StatusBadRequest, "category and uncategorized are mutually exclusive")
			return
		}
		filter.Uncategorized = true
	}

	msgs, err := h.store.Find(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("listing messages")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// GetMessage returns a single message by internal id.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := h.store.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("id", id).Error("fetching message")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.JSON(w, http.StatusOK, msg)
}

// Search answers a free-text query, optionally scoped by account, folder,
// and category. Degraded search backends are handled inside the gateway;
// callers always get a best-effort result set.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	filters := search.Filters{
		Account: r.URL.Query().Get("account"),
		Folder:  r.URL.Query().Get("folder"),
	}
	if v := r.URL.Query().Get("category"); v != "" {
		category, ok := model.ParseCategory(v)
		if !ok {
			h.Error(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", v))
			return
		}
		filters.Category = string(category)
	}

	msgs, err := h.searcher.Search(r.Context(), query, filters)
	if err != nil {
		h.log.WithError(err).Error("search failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// Recategorize runs one bounded sweep over uncategorized records and
// reports the outcome.
func (h *Handler) Recategorize(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.RecategorizeSweep(r.Context(), limitParam(r, 0))
	if err != nil {
		h.log.WithError(err).Error("re-categorization sweep failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.JSON(w, http.StatusOK, result)
}

// Events streams message-upserted events to the client as server-sent
// events until the client disconnects.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.broker.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.WithError(err).Warn("encoding event")
				continue
			}
			fmt.Fprintf(w, "event: message.upserted\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// limitParam parses the limit query parameter, falling back to def and
// capping at maxListLimit.
func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
