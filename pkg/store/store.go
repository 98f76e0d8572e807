// Package store implements the logical sub-stores of the api-store
// data model on top of the ordered key-value engine: users, the files
// tree with access control, project contents, revisions, request
// history, the soft-delete bin, the shared-with-me index, and the
// per-application scratch space.
//
// Every mutating method follows the same order: access check, one
// atomic batch for the read-modify-write, revision record, then event
// publication. Events are published only after the batch is durable.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/cursor"
	"github.com/apiclient/api-store/pkg/event"
	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
	"github.com/apiclient/api-store/pkg/patch"
)

// Namespaces of the persisted layout.
const (
	NsUsers          = "users"
	NsFiles          = "files"
	NsProjects       = "projects"
	NsRevisions      = "revisions"
	NsBin            = "bin"
	NsShared         = "shared"
	NsPermissions    = "permissions"
	NsApp            = "app"
	NsHistoryData    = "history/data"
	NsHistorySpace   = "history/space"
	NsHistoryProject = "history/project"
	NsHistoryRequest = "history/request"
	NsHistoryApp     = "history/app"
)

// DefaultListLimit applies when a listing request carries no limit.
const DefaultListLimit = 35

// MaxListLimit caps client-requested page sizes.
const MaxListLimit = 300

// Options configure the store aggregate.
type Options struct {
	// Prefix is the HTTP route prefix events are scoped to, e.g.
	// "/v1".
	Prefix string

	// SingleUser disables authentication checks against real users
	// and maps every caller to the default user.
	SingleUser bool

	Cursor *cursor.Codec
	Bus    *event.Bus
	Logger zerolog.Logger
}

// Store is the aggregate owning all sub-stores. Sub-stores share the
// engine and the event bus; cross-store writes go through one batch.
type Store struct {
	kv      kv.Store
	bus     *event.Bus
	cursors *cursor.Codec
	log     zerolog.Logger

	prefix     string
	singleUser bool

	filePatcher    *patch.Engine
	projectPatcher *patch.Engine

	now func() time.Time

	Users     *UsersStore
	Files     *FilesStore
	Projects  *ProjectsStore
	Revisions *RevisionsStore
	History   *HistoryStore
	Bin       *BinStore
	Shared    *SharedStore
	App       *AppStore
}

// New creates the store aggregate on the given engine.
func New(engine kv.Store, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "/v1"
	}

	s := &Store{
		kv:         engine,
		bus:        opts.Bus,
		cursors:    opts.Cursor,
		log:        opts.Logger.With().Str("pkg", "store").Logger(),
		prefix:     opts.Prefix,
		singleUser: opts.SingleUser,
		filePatcher: patch.NewEngine(
			"/_deleted", "/key", "/kind", "/owner", "/parents",
		),
		projectPatcher: patch.NewEngine(
			"/_deleted", "/key", "/kind",
		),
		now: time.Now,
	}

	s.Users = &UsersStore{s: s}
	s.Files = &FilesStore{s: s}
	s.Projects = &ProjectsStore{s: s}
	s.Revisions = &RevisionsStore{s: s}
	s.History = &HistoryStore{s: s}
	s.Bin = &BinStore{s: s}
	s.Shared = &SharedStore{s: s}
	s.App = &AppStore{s: s}

	return s
}

// SingleUser reports whether the store runs without authentication.
func (s *Store) SingleUser() bool {
	return s.singleUser
}

// Bootstrap prepares the store for serving. In single-user mode it
// ensures the default user record exists.
func (s *Store) Bootstrap(ctx context.Context) error {
	if !s.singleUser {
		return nil
	}
	_, err := s.Users.Read(ctx, model.DefaultUserKey)
	if err == nil {
		return nil
	}
	if !model.IsNotFound(err) {
		return err
	}
	return s.Users.Add(ctx, model.DefaultUser())
}

// notify publishes an event after a durable mutation. The bus may be
// nil in tests that exercise the stores directly.
func (s *Store) notify(e model.Event, filter model.EventFilter) {
	if s.bus == nil {
		return
	}
	s.bus.Notify(e, filter)
}

// fileUrl builds the event URL of a file, optionally with the media
// suffix.
func (s *Store) fileUrl(key string, media bool) string {
	url := s.prefix + "/files/" + key
	if media {
		url += "?alt=media"
	}
	return url
}

// ListOptions parameterize a listing call. Cursor, when set, overrides
// every other field with the state sealed into the token.
type ListOptions struct {
	Limit      int
	Cursor     string
	Parent     string
	Since      int64
	Query      string
	QueryField string
	Type       string
	Id         string
}

// pageState resolves the effective page state from options, decoding
// the cursor when present.
func (s *Store) pageState(opts ListOptions) (cursor.PageState, error) {
	if opts.Cursor != "" {
		state, err := s.cursors.Decode(opts.Cursor)
		if err != nil {
			return cursor.PageState{}, err
		}
		if state.Limit <= 0 {
			state.Limit = DefaultListLimit
		}
		return state, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return cursor.PageState{
		Limit:      limit,
		Parent:     opts.Parent,
		Since:      opts.Since,
		Query:      opts.Query,
		QueryField: opts.QueryField,
	}, nil
}

// nextCursor seals the continuation state after a page. A cursor is
// returned whenever the scan advanced, even past a short page; only a
// scan that yielded nothing ends the listing. An empty string means
// the listing is exhausted.
func (s *Store) nextCursor(state cursor.PageState, lastKey string) (string, error) {
	if lastKey == "" || lastKey == state.LastKey {
		return "", nil
	}
	state.LastKey = lastKey
	return s.cursors.Encode(state)
}

func marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, model.WrapError(model.ErrInternal, "encoding entity", err)
	}
	return raw, nil
}

// afterKey returns the exclusive-start bound following key in an
// ascending scan.
func afterKey(key string) string {
	if key == "" {
		return ""
	}
	return key + "\x00"
}
