package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/store"
)

// HistoryHandler serves the request/response history.
type HistoryHandler struct {
	store *store.Store
	log   zerolog.Logger
}

// NewHistoryHandler creates the handler.
func NewHistoryHandler(s *store.Store, log zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{store: s, log: log.With().Str("handler", "history").Logger()}
}

// List pages through history entries, scoped by ?type and ?id.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	page, err := h.store.History.List(r.Context(), user.Key, listOptions(r))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// Create records a request/response exchange.
func (h *HistoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())

	var entry model.HistoryEntry
	if err := DecodeBody(r, &entry); err != nil {
		WriteError(w, h.log, err)
		return
	}
	key, err := h.store.History.Add(r.Context(), &entry, user.Key)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"key": key})
}

// Read returns one of the caller's own entries.
func (h *HistoryHandler) Read(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	entry, err := h.store.History.Read(r.Context(), chi.URLParam(r, "id"), user.Key)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// Delete removes one of the caller's own entries.
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	if err := h.store.History.Delete(r.Context(), chi.URLParam(r, "id"), user.Key); err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}
