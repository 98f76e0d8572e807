package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/api/middleware"
	"github.com/apiclient/api-store/pkg/event"
	"github.com/apiclient/api-store/pkg/metrics"
	"github.com/apiclient/api-store/pkg/model"
)

// clientMessage is the frame clients send. Only ping is handled today,
// anything else is answered with an error frame.
type clientMessage struct {
	Operation string          `json:"operation"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// Handler upgrades HTTP requests to event subscriptions.
type Handler struct {
	auth     *middleware.Auth
	bus      *event.Bus
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates the upgrade handler.
func NewHandler(auth *middleware.Auth, bus *event.Bus, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		auth:    auth,
		bus:     bus,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Clients are native apps, not browsers; origin carries no
			// trust here. The token does.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.With().Str("pkg", "ws").Logger(),
	}
}

// Upgrade authenticates the request, upgrades it, and registers the
// connection on the bus under its subscription URL.
//
// The token travels in the query string since browsers cannot set
// headers on WebSocket dials. An unauthenticated session may only
// subscribe to the login path, where it waits for its token.
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	raw := middleware.ExtractToken(r)
	if raw == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	sid, sess, err := h.auth.VerifySid(r.Context(), raw)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	user, err := h.auth.ResolveUser(r.Context(), sess)
	if err != nil {
		user = nil
	}
	if user == nil && !isLoginPath(r.URL.Path) {
		http.Error(w, "session is not authenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	url := middleware.SubscriptionUrl(r.URL)
	ch := newChannel(conn, url, h.log)
	h.bus.Register(ch, url, user, sid)
	h.metrics.WsConnected()
	h.log.Debug().Str("url", url).Msg("subscriber connected")

	go h.pingLoop(ch)
	go h.readLoop(ch, conn, url)
}

func (h *Handler) readLoop(ch *Channel, conn *websocket.Conn, url string) {
	defer func() {
		h.bus.Unregister(ch)
		_ = ch.Close()
		h.metrics.WsDisconnected()
		h.log.Debug().Str("url", url).Msg("subscriber disconnected")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetReadLimit(1 << 16)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			ch.SendError("invalid message")
			continue
		}
		switch msg.Operation {
		case "ping":
			_ = ch.Send(model.Event{Type: "event", Operation: "pong"})
		default:
			ch.SendError("unknown operation")
		}
	}
}

func (h *Handler) pingLoop(ch *Channel) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := ch.ping(); err != nil {
			return
		}
	}
}

func isLoginPath(path string) bool {
	return strings.HasSuffix(strings.TrimSuffix(path, "/"), "/auth/login")
}
