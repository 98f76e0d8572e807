// Package api assembles the HTTP surface: router, middleware, handlers,
// WebSocket upgrades, and the server lifecycle.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/handlers"
	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/api/ws"
	"github.com/apiclient/api-store/pkg/auth/oidc"
	"github.com/apiclient/api-store/pkg/event"
	"github.com/apiclient/api-store/pkg/metrics"
	"github.com/apiclient/api-store/pkg/session"
	"github.com/apiclient/api-store/pkg/store"
	"github.com/apiclient/api-store/pkg/token"
)

// RouterOptions carries everything the router wires together.
type RouterOptions struct {
	Mode       string
	Prefix     string
	SingleUser bool

	Store    *store.Store
	Sessions *session.Store
	Tokens   *token.Service
	Bus      *event.Bus

	// Auth is nil in single-user mode.
	Auth *oidc.Authenticator

	// Metrics may be nil when disabled.
	Metrics *metrics.Metrics

	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// NewRouter builds the chi router with the full middleware stack and
// every route mounted under the configured prefix.
func NewRouter(opts RouterOptions) http.Handler {
	log := opts.Logger

	r := chi.NewRouter()

	// Middleware stack, order matters.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(log, opts.Metrics))
	r.Use(chimw.Recoverer)

	auth := middleware.NewAuth(opts.Tokens, opts.Sessions, opts.Store.Users, opts.SingleUser, log)

	sessionsHandler := handlers.NewSessionsHandler(opts.Sessions, opts.Tokens, opts.SingleUser, log)
	usersHandler := handlers.NewUsersHandler(opts.Store, log)
	filesHandler := handlers.NewFilesHandler(opts.Store, log)
	sharedHandler := handlers.NewSharedHandler(opts.Store, log)
	historyHandler := handlers.NewHistoryHandler(opts.Store, log)
	appHandler := handlers.NewAppHandler(opts.Store, log)

	authType := ""
	if opts.Auth != nil {
		authType = "oidc"
	}
	backendHandler := handlers.NewBackendHandler(opts.Mode, opts.Prefix, authType)

	wsHandler := ws.NewHandler(auth, opts.Bus, opts.Metrics, log)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route(opts.Prefix, func(r chi.Router) {
		// WebSocket upgrades are intercepted before routing; they
		// authenticate inside the handler, where an unauthenticated
		// session may still wait on /auth/login.
		r.Use(wsUpgrade(wsHandler, opts.Prefix))

		r.Get("/backend", backendHandler.Read)

		r.Post("/sessions", sessionsHandler.Create)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession)
			r.Post("/sessions/renew", sessionsHandler.Renew)
			r.Delete("/sessions", sessionsHandler.Delete)
		})

		if opts.Auth != nil {
			authHandler := handlers.NewAuthHandler(opts.Auth, opts.Sessions, opts.Store.Users, opts.Bus, log)
			r.With(auth.RequireSession).Get("/auth/login", authHandler.Login)
			r.Get(oidc.CallbackPath, authHandler.Callback)
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			if opts.RequestTimeout > 0 {
				r.Use(chimw.Timeout(opts.RequestTimeout))
			}

			r.Get("/users/me", usersHandler.Me)
			r.Get("/users", usersHandler.List)

			r.Route("/files", func(r chi.Router) {
				r.Get("/", filesHandler.List)
				r.Post("/", filesHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", filesHandler.Read)
					r.Post("/", filesHandler.CreateMedia)
					r.Patch("/", filesHandler.Patch)
					r.Delete("/", filesHandler.Delete)
					r.Get("/users", filesHandler.Permissions)
					r.Patch("/users", filesHandler.PatchAccess)
					r.Get("/revisions", filesHandler.Revisions)
				})
			})

			r.Get("/shared", sharedHandler.List)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", historyHandler.List)
				r.Post("/", historyHandler.Create)
				r.Get("/{id}", historyHandler.Read)
				r.Delete("/{id}", historyHandler.Delete)
			})

			r.Route("/app/{app}/{kind}", func(r chi.Router) {
				r.Get("/", appHandler.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", appHandler.Read)
					r.Put("/", appHandler.Put)
					r.Delete("/", appHandler.Delete)
				})
			})
		})
	})

	return r
}

// wsUpgrade routes WebSocket upgrade requests on the subscription
// paths to the upgrade handler; everything else falls through to the
// regular routes.
func wsUpgrade(h *ws.Handler, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) && wsPath(strings.TrimPrefix(r.URL.Path, prefix)) {
				h.Upgrade(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// wsPath reports whether a prefix-relative path accepts subscriptions:
// /files, /files/{id}, /history, /auth/login.
func wsPath(rel string) bool {
	rel = strings.TrimSuffix(rel, "/")
	switch rel {
	case "/files", "/history", "/auth/login":
		return true
	}
	if member, ok := strings.CutPrefix(rel, "/files/"); ok {
		return member != "" && !strings.Contains(member, "/")
	}
	return false
}

// requestLogger logs each request with its route pattern, status, and
// duration, and records it on the metrics registry.
func requestLogger(log zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			elapsed := time.Since(start)

			log.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", wrapped.Status()).
				Dur("elapsed", elapsed).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request")
			m.RecordRequest(r.Method, route, wrapped.Status(), elapsed)
		})
	}
}
