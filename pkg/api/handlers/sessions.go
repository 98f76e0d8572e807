package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/session"
	"github.com/apiclient/api-store/pkg/token"
)

// SessionsHandler manages session lifecycle: create, renew, end.
type SessionsHandler struct {
	sessions   *session.Store
	tokens     *token.Service
	singleUser bool
	log        zerolog.Logger
}

// NewSessionsHandler creates the handler.
func NewSessionsHandler(sessions *session.Store, tokens *token.Service, singleUser bool, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions:   sessions,
		tokens:     tokens,
		singleUser: singleUser,
		log:        log.With().Str("handler", "sessions").Logger(),
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Create issues a fresh session token: authenticated as the default
// user in single-user mode, unauthenticated otherwise.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var (
		signed string
		err    error
	)
	if h.singleUser {
		signed, err = h.sessions.GenerateAuthenticated(r.Context(), "", model.DefaultUserKey)
	} else {
		signed, err = h.sessions.GenerateUnauthenticated(r.Context())
	}
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, tokenResponse{Token: signed})
}

// Renew re-signs the current session, extending its lifetime.
func (h *SessionsHandler) Renew(w http.ResponseWriter, r *http.Request) {
	sid := middleware.Sid(r.Context())
	signed, err := h.tokens.Sign(sid)
	if err != nil {
		WriteError(w, h.log, model.WrapError(model.ErrInternal, "signing token", err))
		return
	}
	WriteJSON(w, http.StatusOK, tokenResponse{Token: signed})
}

// Delete ends the current session. Outstanding tokens for it stop
// resolving immediately.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sid := middleware.Sid(r.Context())
	if err := h.sessions.Delete(r.Context(), sid); err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}
