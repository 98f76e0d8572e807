package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/store"
)

// SharedHandler serves the shared-with-me index.
type SharedHandler struct {
	store *store.Store
	log   zerolog.Logger
}

// NewSharedHandler creates the handler.
func NewSharedHandler(s *store.Store, log zerolog.Logger) *SharedHandler {
	return &SharedHandler{store: s, log: log.With().Str("handler", "shared").Logger()}
}

// List returns the files other users shared with the caller.
func (h *SharedHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	page, err := h.store.Shared.List(r.Context(), user.Key, listOptions(r))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}
