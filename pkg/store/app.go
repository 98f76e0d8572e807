package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/apiclient/api-store/pkg/keys"
	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// App item kinds.
const (
	AppKindProjects = "projects"
	AppKindRequests = "requests"
)

// AppStore is the per-application scratch namespace. Applications park
// working copies of projects and requests here keyed by their own id;
// items carry no ACL beyond belonging to the writing user's session
// and are not part of the files tree.
type AppStore struct {
	s *Store
}

// AppItem is one scratch record.
type AppItem struct {
	Key     string             `json:"key"`
	App     string             `json:"app"`
	Kind    string             `json:"kind"`
	Data    json.RawMessage    `json:"data"`
	Updated model.Modification `json:"updated"`
}

// AppPage is one page of an app-scoped listing.
type AppPage struct {
	Data   []*AppItem `json:"data"`
	Cursor string     `json:"cursor,omitempty"`
}

func appItemKind(kind string) error {
	if kind != AppKindProjects && kind != AppKindRequests {
		return model.NewError(model.ErrInvalidInput, "unknown app item kind")
	}
	return nil
}

// Put stores or replaces a scratch item.
func (a *AppStore) Put(ctx context.Context, appKey, kind, itemKey string, data json.RawMessage, userKey string) error {
	if err := appItemKind(kind); err != nil {
		return err
	}
	key, err := keys.Join(appKey, kind, itemKey)
	if err != nil {
		return model.WrapError(model.ErrInvalidInput, "forming app key", err)
	}

	item := AppItem{
		Key:  itemKey,
		App:  appKey,
		Kind: kind,
		Data: data,
		Updated: model.Modification{
			User: userKey,
			Time: a.s.now().UnixMilli(),
		},
	}
	raw, err := marshal(item)
	if err != nil {
		return err
	}
	return a.s.kv.Put(ctx, NsApp, key, raw)
}

// Read returns one scratch item.
func (a *AppStore) Read(ctx context.Context, appKey, kind, itemKey string) (*AppItem, error) {
	if err := appItemKind(kind); err != nil {
		return nil, err
	}
	key, err := keys.Join(appKey, kind, itemKey)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, "forming app key", err)
	}

	raw, err := a.s.kv.Get(ctx, NsApp, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, model.NewError(model.ErrNotFound, "app item not found")
	}
	if err != nil {
		return nil, err
	}
	var item AppItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, model.WrapError(model.ErrInternal, "decoding app item", err)
	}
	return &item, nil
}

// Delete removes one scratch item. Deleting an absent item is not an
// error.
func (a *AppStore) Delete(ctx context.Context, appKey, kind, itemKey string) error {
	if err := appItemKind(kind); err != nil {
		return err
	}
	key, err := keys.Join(appKey, kind, itemKey)
	if err != nil {
		return model.WrapError(model.ErrInvalidInput, "forming app key", err)
	}
	return a.s.kv.Delete(ctx, NsApp, key)
}

// List pages through one application's items of a kind in key order.
func (a *AppStore) List(ctx context.Context, appKey, kind string, opts ListOptions) (*AppPage, error) {
	if err := appItemKind(kind); err != nil {
		return nil, err
	}
	prefix, err := keys.Join(appKey, kind)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, "forming app prefix", err)
	}
	prefix += keys.Separator

	state, err := a.s.pageState(opts)
	if err != nil {
		return nil, err
	}
	start := prefix
	if state.LastKey != "" {
		start = afterKey(state.LastKey)
	}

	entries, err := a.s.kv.RangeAsc(ctx, NsApp, kv.RangeOptions{
		Start: start,
		End:   kv.PrefixEnd(prefix),
		Limit: state.Limit,
	})
	if err != nil {
		return nil, err
	}

	page := &AppPage{Data: []*AppItem{}}
	lastKey := state.LastKey
	for _, entry := range entries {
		var item AppItem
		if err := json.Unmarshal(entry.Value, &item); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding app item", err)
		}
		lastKey = entry.Key
		page.Data = append(page.Data, &item)
	}

	page.Cursor, err = a.s.nextCursor(state, lastKey)
	if err != nil {
		return nil, err
	}
	return page, nil
}
