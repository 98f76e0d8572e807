package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/apiclient/api-store/pkg/cursor"
	"github.com/apiclient/api-store/pkg/keys"
	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// History listing types.
const (
	HistoryTypeUser    = "user"
	HistoryTypeSpace   = "space"
	HistoryTypeProject = "project"
	HistoryTypeRequest = "request"
	HistoryTypeApp     = "app"
)

// HistoryStore records request/response exchanges. One data record is
// written per entry plus up to four index records (space, project,
// request, app) whose values are the data key; per-user listings scan
// the data namespace directly since its keys embed the user.
type HistoryStore struct {
	s *Store
}

// HistoryPage is one page of a history listing.
type HistoryPage struct {
	Data   []*model.HistoryEntry `json:"data"`
	Cursor string                `json:"cursor,omitempty"`
}

// Add stores a history entry and its index records in one batch.
func (h *HistoryStore) Add(ctx context.Context, entry *model.HistoryEntry, userKey string) (string, error) {
	if entry.Log == nil {
		return "", model.NewError(model.ErrInvalidInput, "history log is required")
	}

	at := h.s.now()
	if entry.Created > 0 {
		at = time.UnixMilli(entry.Created)
	}

	dataKey, err := keys.HistoryData(at, userKey)
	if err != nil {
		return "", model.WrapError(model.ErrInvalidInput, "forming history key", err)
	}

	entry.Key = dataKey
	entry.Kind = model.KindHistory
	entry.User = userKey
	entry.Created = at.UnixMilli()

	raw, err := marshal(entry)
	if err != nil {
		return "", err
	}
	ops := []kv.Op{kv.PutOp(NsHistoryData, dataKey, raw)}

	indexes := []struct {
		ns, typ, owner string
	}{
		{NsHistorySpace, HistoryTypeSpace, entry.Space},
		{NsHistoryProject, HistoryTypeProject, entry.Project},
		{NsHistoryRequest, HistoryTypeRequest, entry.Request},
		{NsHistoryApp, HistoryTypeApp, entry.App},
	}
	for _, idx := range indexes {
		if idx.owner == "" {
			continue
		}
		indexKey, err := keys.HistoryIndex(idx.typ, idx.owner, at, userKey)
		if err != nil {
			return "", model.WrapError(model.ErrInvalidInput, "forming history index key", err)
		}
		ops = append(ops, kv.PutOp(idx.ns, indexKey, []byte(dataKey)))
	}

	if err := h.s.kv.Batch(ctx, ops); err != nil {
		return "", err
	}

	h.s.notify(
		model.NewEvent(model.OpCreated, model.KindHistory, dataKey, entry),
		model.EventFilter{Url: h.s.prefix + "/history/" + dataKey, Users: []string{userKey}},
	)
	return dataKey, nil
}

// Read returns a single entry by key. Only the owning user reads an
// entry directly.
func (h *HistoryStore) Read(ctx context.Context, key, userKey string) (*model.HistoryEntry, error) {
	entry, err := h.readData(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.User != userKey && !(h.s.singleUser && userKey == model.DefaultUserKey) {
		return nil, model.NewError(model.ErrNotFound, "history entry not found")
	}
	return entry, nil
}

// Delete removes an entry and its index records.
func (h *HistoryStore) Delete(ctx context.Context, key, userKey string) error {
	entry, err := h.Read(ctx, key, userKey)
	if err != nil {
		return err
	}

	at := time.UnixMilli(entry.Created)
	ops := []kv.Op{kv.DeleteOp(NsHistoryData, key)}

	indexes := []struct {
		ns, typ, owner string
	}{
		{NsHistorySpace, HistoryTypeSpace, entry.Space},
		{NsHistoryProject, HistoryTypeProject, entry.Project},
		{NsHistoryRequest, HistoryTypeRequest, entry.Request},
		{NsHistoryApp, HistoryTypeApp, entry.App},
	}
	for _, idx := range indexes {
		if idx.owner == "" {
			continue
		}
		indexKey, err := keys.HistoryIndex(idx.typ, idx.owner, at, entry.User)
		if err != nil {
			return model.WrapError(model.ErrInvalidInput, "forming history index key", err)
		}
		ops = append(ops, kv.DeleteOp(idx.ns, indexKey))
	}

	if err := h.s.kv.Batch(ctx, ops); err != nil {
		return err
	}

	h.s.notify(
		model.NewEvent(model.OpDeleted, model.KindHistory, key, nil),
		model.EventFilter{Url: h.s.prefix + "/history/" + key, Users: []string{entry.User}},
	)
	return nil
}

// List pages through history newest-first. Type selects the index:
// user scans the caller's own entries; space and project require
// reader on the subject file; request and app list the caller's own
// entries for one request or application.
func (h *HistoryStore) List(ctx context.Context, userKey string, opts ListOptions) (*HistoryPage, error) {
	state, err := h.s.pageState(opts)
	if err != nil {
		return nil, err
	}

	// A continuation cursor carries the listing scope; fresh calls
	// take it from the options.
	typ, id := opts.Type, opts.Id
	if opts.Cursor != "" {
		typ, id = state.QueryField, state.Parent
	}
	if typ == "" {
		typ = HistoryTypeUser
	}
	state.QueryField, state.Parent = typ, id

	switch typ {
	case HistoryTypeUser:
		return h.listUser(ctx, userKey, state)
	case HistoryTypeSpace, HistoryTypeProject:
		if id == "" {
			return nil, model.NewError(model.ErrInvalidInput, "listing id is required")
		}
		if _, err := h.s.checkAccess(ctx, userKey, id, model.RoleReader); err != nil {
			return nil, err
		}
		return h.listIndex(ctx, typ, id, "", state)
	case HistoryTypeRequest, HistoryTypeApp:
		if id == "" {
			return nil, model.NewError(model.ErrInvalidInput, "listing id is required")
		}
		return h.listIndex(ctx, typ, id, userKey, state)
	default:
		return nil, model.NewError(model.ErrInvalidInput, "unknown history type")
	}
}

// listUser scans the data namespace in reverse, filtering to the
// user's own entries.
func (h *HistoryStore) listUser(ctx context.Context, userKey string, state cursor.PageState) (*HistoryPage, error) {
	page := &HistoryPage{Data: []*model.HistoryEntry{}}
	lastKey := state.LastKey

	entries, err := h.s.kv.RangeDesc(ctx, NsHistoryData, kv.RangeOptions{End: state.LastKey})
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		var rec model.HistoryEntry
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding history entry", err)
		}
		lastKey = entry.Key
		if rec.User != userKey {
			continue
		}
		if state.Since > 0 && rec.Created < state.Since {
			continue
		}
		page.Data = append(page.Data, &rec)
		if len(page.Data) >= state.Limit {
			break
		}
	}

	page.Cursor, err = h.s.nextCursor(state, lastKey)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// listIndex scans one index range, dereferencing data keys. A
// non-empty userFilter restricts results to one user's entries.
func (h *HistoryStore) listIndex(ctx context.Context, typ, ownerId, userFilter string, state cursor.PageState) (*HistoryPage, error) {
	ns, err := historyNamespace(typ)
	if err != nil {
		return nil, err
	}
	prefix, err := keys.HistoryIndexPrefix(typ, ownerId)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, "forming history index prefix", err)
	}

	end := kv.PrefixEnd(prefix)
	if state.LastKey != "" {
		end = state.LastKey
	}

	page := &HistoryPage{Data: []*model.HistoryEntry{}}
	lastKey := state.LastKey

	indexEntries, err := h.s.kv.RangeDesc(ctx, ns, kv.RangeOptions{Start: prefix, End: end})
	if err != nil {
		return nil, err
	}
	for _, idx := range indexEntries {
		lastKey = idx.Key

		rec, err := h.readData(ctx, string(idx.Value))
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if userFilter != "" && rec.User != userFilter {
			continue
		}
		if state.Since > 0 && rec.Created < state.Since {
			continue
		}
		page.Data = append(page.Data, rec)
		if len(page.Data) >= state.Limit {
			break
		}
	}

	page.Cursor, err = h.s.nextCursor(state, lastKey)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (h *HistoryStore) readData(ctx context.Context, key string) (*model.HistoryEntry, error) {
	raw, err := h.s.kv.Get(ctx, NsHistoryData, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, model.NewError(model.ErrNotFound, "history entry not found")
	}
	if err != nil {
		return nil, err
	}
	var entry model.HistoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, model.WrapError(model.ErrInternal, "decoding history entry", err)
	}
	return &entry, nil
}

func historyNamespace(typ string) (string, error) {
	switch typ {
	case HistoryTypeSpace:
		return NsHistorySpace, nil
	case HistoryTypeProject:
		return NsHistoryProject, nil
	case HistoryTypeRequest:
		return NsHistoryRequest, nil
	case HistoryTypeApp:
		return NsHistoryApp, nil
	default:
		return "", model.NewError(model.ErrInvalidInput, "unknown history type")
	}
}
