// Package session keeps the two-tier session map: an authoritative
// persisted namespace plus an in-memory cache.
//
// Mutations for one sid are serialized; different sids proceed in
// parallel. Token expiry is the sole authoritative TTL, the cache is
// advisory. The OIDC state index is memory-only since state is
// short-lived.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/token"
)

// Namespace is the persisted keyspace for session records.
const Namespace = "sessions"

// ErrSessionNotFound is returned when no record exists for a sid.
var ErrSessionNotFound = errors.New("session not found")

// Store is the session manager.
type Store struct {
	kv     kv.Store
	tokens *token.Service
	log    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*model.Session
	state map[string]string // OIDC state -> sid

	locks sync.Map // sid -> *sync.Mutex
}

// New creates a session store backed by the given engine.
func New(engine kv.Store, tokens *token.Service, log zerolog.Logger) *Store {
	return &Store{
		kv:     engine,
		tokens: tokens,
		log:    log.With().Str("pkg", "session").Logger(),
		cache:  make(map[string]*model.Session),
		state:  make(map[string]string),
	}
}

func (s *Store) lock(sid string) func() {
	v, _ := s.locks.LoadOrStore(sid, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the session for sid, hitting the cache first and
// repopulating it from the persisted store on a miss. Repopulation
// holds the per-sid lock so it cannot interleave with Set or Delete.
func (s *Store) Get(ctx context.Context, sid string) (*model.Session, error) {
	s.mu.RLock()
	cached, ok := s.cache[sid]
	s.mu.RUnlock()
	if ok {
		copied := *cached
		return &copied, nil
	}

	unlock := s.lock(sid)
	defer unlock()

	s.mu.RLock()
	cached, ok = s.cache[sid]
	s.mu.RUnlock()
	if ok {
		copied := *cached
		return &copied, nil
	}

	raw, err := s.kv.Get(ctx, Namespace, sid)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[sid] = &sess
	s.mu.Unlock()

	copied := sess
	return &copied, nil
}

// Set writes the session through to the persisted store and cache.
func (s *Store) Set(ctx context.Context, sid string, sess *model.Session) error {
	unlock := s.lock(sid)
	defer unlock()

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, Namespace, sid, raw); err != nil {
		return err
	}

	copied := *sess
	s.mu.Lock()
	s.cache[sid] = &copied
	s.mu.Unlock()
	return nil
}

// Delete removes the session from cache and persisted store, along
// with any state index entries pointing at it.
func (s *Store) Delete(ctx context.Context, sid string) error {
	unlock := s.lock(sid)
	defer unlock()

	if err := s.kv.Delete(ctx, Namespace, sid); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, sid)
	for state, owner := range s.state {
		if owner == sid {
			delete(s.state, state)
		}
	}
	s.mu.Unlock()
	return nil
}

// GenerateUnauthenticated creates a fresh unauthenticated session and
// returns its signed token.
func (s *Store) GenerateUnauthenticated(ctx context.Context) (string, error) {
	sid := uuid.NewString()
	if err := s.Set(ctx, sid, &model.Session{Authenticated: false}); err != nil {
		return "", err
	}

	signed, err := s.tokens.Sign(sid)
	if err != nil {
		return "", err
	}

	s.log.Debug().Msg("created unauthenticated session")
	return signed, nil
}

// GenerateAuthenticated upgrades the session (creating it when absent)
// to an authenticated one bound to uid and returns a fresh token.
func (s *Store) GenerateAuthenticated(ctx context.Context, sid, uid string) (string, error) {
	if sid == "" {
		sid = uuid.NewString()
	}
	if err := s.Set(ctx, sid, &model.Session{Authenticated: true, Uid: uid}); err != nil {
		return "", err
	}
	return s.tokens.Sign(sid)
}

// RegisterState binds an OIDC state value to a sid for the duration of
// a login flow.
func (s *Store) RegisterState(state, sid string) {
	s.mu.Lock()
	s.state[state] = sid
	s.mu.Unlock()
}

// SessionForState resolves an OIDC state value back to its sid.
func (s *Store) SessionForState(state string) (string, bool) {
	s.mu.RLock()
	sid, ok := s.state[state]
	s.mu.RUnlock()
	return sid, ok
}

// ClearState drops a state binding after the flow completes.
func (s *Store) ClearState(state string) {
	s.mu.Lock()
	delete(s.state, state)
	s.mu.Unlock()
}
