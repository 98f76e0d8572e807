package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerkv "github.com/apiclient/api-store/pkg/kv/badger"
	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/session"
	"github.com/apiclient/api-store/pkg/token"
)

func newStore(t *testing.T) *session.Store {
	t.Helper()
	engine, err := badgerkv.Open(badgerkv.Options{Path: ""})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	tokens, err := token.NewService(token.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)

	return session.New(engine, tokens, zerolog.Nop())
}

func TestGenerateUnauthenticated(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	signed, err := store.GenerateUnauthenticated(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	tokens, err := token.NewService(token.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
	claims, err := tokens.Verify(signed)
	require.NoError(t, err)

	sess, err := store.Get(ctx, claims.Sid)
	require.NoError(t, err)
	assert.False(t, sess.Authenticated)
}

func TestGenerateAuthenticatedUpgrades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	signed, err := store.GenerateUnauthenticated(ctx)
	require.NoError(t, err)

	tokens, err := token.NewService(token.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
	claims, err := tokens.Verify(signed)
	require.NoError(t, err)

	_, err = store.GenerateAuthenticated(ctx, claims.Sid, "u1")
	require.NoError(t, err)

	sess, err := store.Get(ctx, claims.Sid)
	require.NoError(t, err)
	assert.True(t, sess.Authenticated)
	assert.Equal(t, "u1", sess.Uid)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "s1", &model.Session{Authenticated: true, Uid: "u1"}))
	store.RegisterState("state-1", "s1")

	require.NoError(t, store.Delete(ctx, "s1"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	_, ok := store.SessionForState("state-1")
	assert.False(t, ok)
}

func TestStateIndex(t *testing.T) {
	store := newStore(t)

	store.RegisterState("abc", "s1")

	sid, ok := store.SessionForState("abc")
	require.True(t, ok)
	assert.Equal(t, "s1", sid)

	store.ClearState("abc")
	_, ok = store.SessionForState("abc")
	assert.False(t, ok)
}

func TestDeleteWinsOverConcurrentGet(t *testing.T) {
	engine, err := badgerkv.Open(badgerkv.Options{Path: ""})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	tokens, err := token.NewService(token.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
	store := session.New(engine, tokens, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		sid := fmt.Sprintf("s%d", i)

		// Seed the record straight into the engine so the first Get
		// takes the cold repopulation path while Delete runs.
		raw, err := json.Marshal(&model.Session{Authenticated: true, Uid: "u1"})
		require.NoError(t, err)
		require.NoError(t, engine.Put(ctx, session.Namespace, sid, raw))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Get(ctx, sid)
		}()
		require.NoError(t, store.Delete(ctx, sid))
		wg.Wait()

		_, err = store.Get(ctx, sid)
		assert.ErrorIs(t, err, session.ErrSessionNotFound, "sid %s", sid)
	}
}

func TestConcurrentSetsOnDistinctSids(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := string(rune('a' + i))
			for j := 0; j < 10; j++ {
				_ = store.Set(ctx, sid, &model.Session{Authenticated: true, Uid: sid})
			}
		}(i)
	}
	wg.Wait()

	sess, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", sess.Uid)
}
