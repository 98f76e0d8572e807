package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/store"
)

// UsersHandler serves account endpoints.
type UsersHandler struct {
	store *store.Store
	log   zerolog.Logger
}

// NewUsersHandler creates the handler.
func NewUsersHandler(s *store.Store, log zerolog.Logger) *UsersHandler {
	return &UsersHandler{store: s, log: log.With().Str("handler", "users").Logger()}
}

// Me returns the authenticated user's own profile.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, middleware.User(r.Context()))
}

// List searches users by name or email substring, used when picking a
// grantee for sharing.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.store.Users.List(r.Context(), listOptions(r))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}
