package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/auth/oidc"
	"github.com/apiclient/api-store/pkg/event"
	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/session"
	"github.com/apiclient/api-store/pkg/store"
)

// AuthHandler drives the OIDC authorization-code flow. The client opens
// a WebSocket on /auth/login with its session token, then navigates the
// user's browser to GET /auth/login; once the provider redirects back
// to the callback, the fresh authenticated token is pushed over the
// waiting channel.
type AuthHandler struct {
	auth     *oidc.Authenticator
	sessions *session.Store
	users    *store.UsersStore
	bus      *event.Bus
	log      zerolog.Logger
}

// NewAuthHandler creates the handler.
func NewAuthHandler(auth *oidc.Authenticator, sessions *session.Store, users *store.UsersStore, bus *event.Bus, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		sessions: sessions,
		users:    users,
		bus:      bus,
		log:      log.With().Str("handler", "auth").Logger(),
	}
}

// Login starts the flow: binds a fresh state and nonce to the caller's
// session and redirects the browser to the provider.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sid := middleware.Sid(r.Context())
	sess := middleware.Session(r.Context())

	sess.State = uuid.NewString()
	sess.Nonce = uuid.NewString()
	if err := h.sessions.Set(r.Context(), sid, sess); err != nil {
		WriteError(w, h.log, model.WrapError(model.ErrInternal, "saving login state", err))
		return
	}
	h.sessions.RegisterState(sess.State, sid)

	http.Redirect(w, r, h.auth.AuthURL(sess.State, sess.Nonce), http.StatusFound)
}

// Callback completes the flow: exchanges the code, resolves or creates
// the user, upgrades the session, and pushes the new token to the
// session's live channels.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		WriteError(w, h.log, model.NewError(model.ErrInvalidInput, "missing state or code"))
		return
	}

	sid, ok := h.sessions.SessionForState(state)
	if !ok {
		WriteError(w, h.log, model.NewError(model.ErrInvalidToken, "unknown login state"))
		return
	}
	sess, err := h.sessions.Get(r.Context(), sid)
	if err != nil || sess.State != state {
		WriteError(w, h.log, model.NewError(model.ErrInvalidToken, "login state mismatch"))
		return
	}

	identity, err := h.auth.Exchange(r.Context(), code, sess.Nonce)
	if err != nil {
		h.log.Warn().Err(err).Msg("token exchange failed")
		WriteError(w, h.log, model.NewError(model.ErrInvalidToken, "authentication failed"))
		return
	}

	user, err := h.resolveUser(r, identity)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	signed, err := h.sessions.GenerateAuthenticated(r.Context(), sid, user.Key)
	if err != nil {
		WriteError(w, h.log, model.WrapError(model.ErrInternal, "upgrading session", err))
		return
	}
	h.sessions.ClearState(state)

	h.bus.SendToSid(sid, model.NewEvent("login", model.KindUser, user.Key, map[string]string{"token": signed}))
	h.log.Info().Str("user", user.Key).Msg("login completed")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!DOCTYPE html><html><body><p>Signed in. You can close this window.</p></body></html>"))
}

func (h *AuthHandler) resolveUser(r *http.Request, identity *oidc.Identity) (*model.User, error) {
	user, err := h.users.FindByProviderSub(r.Context(), identity.Issuer, identity.Sub)
	if err == nil {
		return user, nil
	}
	if !model.IsNotFound(err) {
		return nil, err
	}

	user = &model.User{
		Key:      uuid.NewString(),
		Kind:     model.KindUser,
		Name:     identity.Name,
		Email:    identity.Email,
		Provider: identity.Issuer,
		Sub:      identity.Sub,
		Picture:  identity.Picture,
	}
	if err := h.users.Add(r.Context(), user); err != nil {
		return nil, model.WrapError(model.ErrInternal, "creating user", err)
	}
	h.log.Info().Str("user", user.Key).Msg("created user from identity")
	return user, nil
}
