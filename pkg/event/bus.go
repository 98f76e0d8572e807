// Package event fans mutation events out to live WebSocket
// subscribers.
//
// The registry maps each live channel to its subscription URL and the
// authenticated user behind it. Notify delivers an event to every
// channel whose URL matches the notification URL and whose user is in
// the authorized set. Delivery is fire-and-forget: a failed send
// unregisters the channel.
package event

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/model"
)

// Channel is one live subscriber connection.
type Channel interface {
	// Send pushes an event to the subscriber. An error marks the
	// channel dead.
	Send(e model.Event) error

	// Close tears the connection down.
	Close() error
}

type clientInfo struct {
	url  string
	user *model.User
	sid  string
}

// Bus is the process-global registry of WebSocket channels.
type Bus struct {
	mu      sync.RWMutex
	clients map[Channel]*clientInfo
	log     zerolog.Logger

	onPublish func()
}

// OnPublish installs a hook invoked once per Notify call, used for
// metrics. Must be set before the bus is shared.
func (b *Bus) OnPublish(fn func()) {
	b.onPublish = fn
}

// NewBus creates an empty registry.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		clients: make(map[Channel]*clientInfo),
		log:     log.With().Str("pkg", "event").Logger(),
	}
}

// Register adds a channel subscribed to url. User and sid may be empty
// in single-user mode.
func (b *Bus) Register(ch Channel, url string, user *model.User, sid string) {
	b.mu.Lock()
	b.clients[ch] = &clientInfo{url: url, user: user, sid: sid}
	b.mu.Unlock()
}

// Unregister removes a channel.
func (b *Bus) Unregister(ch Channel) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
}

// Count returns the number of channels subscribed to exactly url.
func (b *Bus) Count(url string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, info := range b.clients {
		if info.url == url {
			n++
		}
	}
	return n
}

// Total returns the number of registered channels.
func (b *Bus) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// User returns the user bound to a channel, when any.
func (b *Bus) User(ch Channel) *model.User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if info, ok := b.clients[ch]; ok {
		return info.user
	}
	return nil
}

// SendToSid delivers an event to the channels bound to one session,
// regardless of URL. The login flow uses it to hand a fresh token to
// the waiting client.
func (b *Bus) SendToSid(sid string, e model.Event) {
	if sid == "" {
		return
	}

	b.mu.RLock()
	var targets []Channel
	for ch, info := range b.clients {
		if info.sid == sid {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		if err := ch.Send(e); err != nil {
			b.Unregister(ch)
			_ = ch.Close()
		}
	}
}

// CloseByUrl closes and removes every channel subscribed to exactly
// url.
func (b *Bus) CloseByUrl(url string) {
	b.mu.Lock()
	var closing []Channel
	for ch, info := range b.clients {
		if info.url == url {
			closing = append(closing, ch)
			delete(b.clients, ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range closing {
		_ = ch.Close()
	}
}

// CloseAll closes and removes every channel. Called on shutdown so
// hijacked WebSocket connections do not outlive the listener.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	closing := make([]Channel, 0, len(b.clients))
	for ch := range b.clients {
		closing = append(closing, ch)
		delete(b.clients, ch)
	}
	b.mu.Unlock()

	for _, ch := range closing {
		_ = ch.Close()
	}
}

// Notify delivers the event to every matching subscriber. Iteration
// works on a snapshot so slow sends do not hold the registry lock.
func (b *Bus) Notify(e model.Event, filter model.EventFilter) {
	if b.onPublish != nil {
		b.onPublish()
	}

	type target struct {
		ch   Channel
		info *clientInfo
	}

	b.mu.RLock()
	var targets []target
	for ch, info := range b.clients {
		if !Matches(info.url, filter.Url) {
			continue
		}
		if !userAuthorized(info.user, filter.Users) {
			continue
		}
		targets = append(targets, target{ch: ch, info: info})
	}
	b.mu.RUnlock()

	for _, tg := range targets {
		if err := tg.ch.Send(e); err != nil {
			b.log.Debug().Err(err).Str("url", tg.info.url).Msg("dropping dead subscriber")
			b.Unregister(tg.ch)
			_ = tg.ch.Close()
		}
	}
}

// userAuthorized applies the user filter. An empty filter admits
// everyone; the default user always qualifies.
func userAuthorized(user *model.User, users []string) bool {
	if len(users) == 0 {
		return true
	}
	if user == nil {
		return false
	}
	if user.Key == model.DefaultUserKey {
		return true
	}
	for _, u := range users {
		if u == user.Key {
			return true
		}
	}
	return false
}

// Matches reports whether a subscription URL sub receives events
// published at notif.
//
// Rules: exact match; or sub names a collection and notif is a direct
// member of it (one extra path segment). The alt query parameter is
// part of the URL, so distinct alt values are distinct subscriptions.
func Matches(sub, notif string) bool {
	if sub == notif {
		return true
	}

	subPath, subAlt := splitAlt(sub)
	notifPath, notifAlt := splitAlt(notif)
	if subAlt != notifAlt {
		return false
	}
	if subPath == notifPath {
		return true
	}

	// Collection subscribers observe member changes one level down.
	if !strings.HasPrefix(notifPath, subPath+"/") {
		return false
	}
	rest := notifPath[len(subPath)+1:]
	return rest != "" && !strings.Contains(rest, "/")
}

// splitAlt separates the path from the alt query parameter.
func splitAlt(url string) (path, alt string) {
	path = url
	if i := strings.IndexByte(url, '?'); i >= 0 {
		path = url[:i]
		for _, part := range strings.Split(url[i+1:], "&") {
			if v, ok := strings.CutPrefix(part, "alt="); ok {
				alt = v
			}
		}
	}
	return strings.TrimSuffix(path, "/"), alt
}
