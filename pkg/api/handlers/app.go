package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/store"
)

// AppHandler serves the per-app scratch storage.
type AppHandler struct {
	store *store.Store
	log   zerolog.Logger
}

// NewAppHandler creates the handler.
func NewAppHandler(s *store.Store, log zerolog.Logger) *AppHandler {
	return &AppHandler{store: s, log: log.With().Str("handler", "app").Logger()}
}

// List pages through an app's items of one kind.
func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.App.List(r.Context(), chi.URLParam(r, "app"), chi.URLParam(r, "kind"), listOptions(r))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// Put stores or overwrites an app item.
func (h *AppHandler) Put(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())

	var data json.RawMessage
	if err := DecodeBody(r, &data); err != nil {
		WriteError(w, h.log, err)
		return
	}
	err := h.store.App.Put(r.Context(), chi.URLParam(r, "app"), chi.URLParam(r, "kind"), chi.URLParam(r, "id"), data, user.Key)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Read returns one app item.
func (h *AppHandler) Read(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.App.Read(r.Context(), chi.URLParam(r, "app"), chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

// Delete removes one app item.
func (h *AppHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.App.Delete(r.Context(), chi.URLParam(r, "app"), chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}
