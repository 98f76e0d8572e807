package event

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiclient/api-store/pkg/model"
)

type fakeChannel struct {
	mu     sync.Mutex
	events []model.Event
	fail   bool
	closed bool
}

func (c *fakeChannel) Send(e model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.events = append(c.events, e)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMatches(t *testing.T) {
	cases := []struct {
		sub, notif string
		want       bool
	}{
		{"/v1/files", "/v1/files", true},
		{"/v1/files", "/v1/files/F1", true},
		{"/v1/files", "/v1/files/F1/users", false},
		{"/v1/files/F1", "/v1/files/F1", true},
		{"/v1/files/F1", "/v1/files/F2", false},
		{"/v1/files/F1", "/v1/files/F1?alt=media", false},
		{"/v1/files/F1?alt=media", "/v1/files/F1?alt=media", true},
		{"/v1/files/F1?alt=media", "/v1/files/F1", false},
		{"/v1/history", "/v1/history/h1", true},
		{"/v1/files/", "/v1/files/F1", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Matches(tc.sub, tc.notif), "sub=%s notif=%s", tc.sub, tc.notif)
	}
}

func TestNotifyFansOutByUrl(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	collection := &fakeChannel{}
	member := &fakeChannel{}
	other := &fakeChannel{}
	bus.Register(collection, "/v1/files", nil, "")
	bus.Register(member, "/v1/files/F1", nil, "")
	bus.Register(other, "/v1/files/F2", nil, "")

	bus.Notify(model.NewEvent(model.OpPatch, model.KindSpace, "F1", nil),
		model.EventFilter{Url: "/v1/files/F1"})

	assert.Equal(t, 1, collection.received())
	assert.Equal(t, 1, member.received())
	assert.Equal(t, 0, other.received())
}

func TestNotifyFiltersByUser(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	u1 := &fakeChannel{}
	u2 := &fakeChannel{}
	def := &fakeChannel{}
	anon := &fakeChannel{}
	bus.Register(u1, "/v1/files", &model.User{Key: "u1"}, "s1")
	bus.Register(u2, "/v1/files", &model.User{Key: "u2"}, "s2")
	bus.Register(def, "/v1/files", model.DefaultUser(), "s3")
	bus.Register(anon, "/v1/files", nil, "")

	bus.Notify(model.NewEvent(model.OpCreated, model.KindSpace, "F1", nil),
		model.EventFilter{Url: "/v1/files/F1", Users: []string{"u1"}})

	assert.Equal(t, 1, u1.received())
	assert.Equal(t, 0, u2.received())
	// The default user always qualifies.
	assert.Equal(t, 1, def.received())
	assert.Equal(t, 0, anon.received())
}

func TestNotifyUnregistersFailedChannels(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	dead := &fakeChannel{fail: true}
	live := &fakeChannel{}
	bus.Register(dead, "/v1/files", nil, "")
	bus.Register(live, "/v1/files", nil, "")

	bus.Notify(model.NewEvent(model.OpCreated, model.KindSpace, "F1", nil),
		model.EventFilter{Url: "/v1/files/F1"})

	assert.Equal(t, 1, live.received())
	assert.True(t, dead.closed)
	assert.Equal(t, 1, bus.Total())
}

func TestCountAndCloseByUrl(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	a := &fakeChannel{}
	b := &fakeChannel{}
	c := &fakeChannel{}
	bus.Register(a, "/v1/files", nil, "")
	bus.Register(b, "/v1/files", nil, "")
	bus.Register(c, "/v1/history", nil, "")

	require.Equal(t, 2, bus.Count("/v1/files"))
	require.Equal(t, 1, bus.Count("/v1/history"))

	bus.CloseByUrl("/v1/files")
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.False(t, c.closed)
	assert.Equal(t, 0, bus.Count("/v1/files"))
	assert.Equal(t, 1, bus.Total())
}

func TestSendToSid(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	target := &fakeChannel{}
	other := &fakeChannel{}
	bus.Register(target, "/v1/auth/login", nil, "sid-1")
	bus.Register(other, "/v1/auth/login", nil, "sid-2")

	bus.SendToSid("sid-1", model.NewEvent("token", "Session", "sid-1", nil))

	assert.Equal(t, 1, target.received())
	assert.Equal(t, 0, other.received())
}
