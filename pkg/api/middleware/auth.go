// Package middleware provides HTTP middleware for the api-store API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/session"
	"github.com/apiclient/api-store/pkg/store"
	"github.com/apiclient/api-store/pkg/token"
)

type contextKey string

const (
	sidContextKey     contextKey = "sid"
	sessionContextKey contextKey = "session"
	userContextKey    contextKey = "user"
)

// Sid returns the session id bound to the request, or "".
func Sid(ctx context.Context) string {
	sid, _ := ctx.Value(sidContextKey).(string)
	return sid
}

// Session returns the session bound to the request, or nil.
func Session(ctx context.Context) *model.Session {
	sess, _ := ctx.Value(sessionContextKey).(*model.Session)
	return sess
}

// User returns the user bound to the request, or nil.
func User(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// ExtractToken pulls the session token from the Authorization header,
// falling back to the token query parameter for WebSocket upgrades,
// where browsers cannot set headers.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// Auth builds the authentication middleware chain.
type Auth struct {
	tokens   *token.Service
	sessions *session.Store
	users    *store.UsersStore
	single   bool
	log      zerolog.Logger
}

// NewAuth wires the middleware dependencies.
func NewAuth(tokens *token.Service, sessions *session.Store, users *store.UsersStore, singleUser bool, log zerolog.Logger) *Auth {
	return &Auth{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		single:   singleUser,
		log:      log.With().Str("pkg", "middleware").Logger(),
	}
}

// RequireSession verifies the token and loads the session into the
// request context. A missing or invalid token is 401.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, sess, ok := a.resolveSession(w, r)
		if !ok {
			return
		}

		ctx := context.WithValue(r.Context(), sidContextKey, sid)
		ctx = context.WithValue(ctx, sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser verifies the token, the session, and resolves the user
// behind it. In single-user mode every valid session maps to the
// default user.
func (a *Auth) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, sess, ok := a.resolveSession(w, r)
		if !ok {
			return
		}

		user, err := a.ResolveUser(r.Context(), sess)
		if err != nil {
			a.unauthorized(w, "session is not authenticated")
			return
		}

		ctx := context.WithValue(r.Context(), sidContextKey, sid)
		ctx = context.WithValue(ctx, sessionContextKey, sess)
		ctx = context.WithValue(ctx, userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveUser maps a session to its user record. Exposed for the
// WebSocket upgrade path, which authenticates outside the middleware
// chain.
func (a *Auth) ResolveUser(ctx context.Context, sess *model.Session) (*model.User, error) {
	if a.single {
		return a.users.Read(ctx, model.DefaultUserKey)
	}
	if !sess.Authenticated || sess.Uid == "" {
		return nil, model.NewError(model.ErrInvalidToken, "session is not authenticated")
	}
	return a.users.Read(ctx, sess.Uid)
}

// VerifySid validates a raw token and returns the session id plus its
// record. Shared with the WebSocket upgrade path.
func (a *Auth) VerifySid(ctx context.Context, raw string) (string, *model.Session, error) {
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return "", nil, err
	}
	sess, err := a.sessions.Get(ctx, claims.Sid)
	if err != nil {
		return "", nil, err
	}
	return claims.Sid, sess, nil
}

func (a *Auth) resolveSession(w http.ResponseWriter, r *http.Request) (string, *model.Session, bool) {
	raw := ExtractToken(r)
	if raw == "" {
		a.unauthorized(w, "missing token")
		return "", nil, false
	}

	sid, sess, err := a.VerifySid(r.Context(), raw)
	if err != nil {
		a.unauthorized(w, "invalid or expired token")
		return "", nil, false
	}
	return sid, sess, true
}

func (a *Auth) unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"code":    model.ErrInvalidToken,
		"message": "authentication required",
		"detail":  detail,
	})
}

// SubscriptionUrl normalizes the URL a WebSocket channel subscribes
// to: the request path with only the alt query parameter retained.
func SubscriptionUrl(u *url.URL) string {
	path := strings.TrimSuffix(u.Path, "/")
	if alt := u.Query().Get("alt"); alt != "" {
		return path + "?alt=" + alt
	}
	return path
}
