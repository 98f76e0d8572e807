package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/apiclient/api-store/pkg/keys"
	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// SharedStore indexes files explicitly granted to a user outside the
// user's own tree, enabling "shared with me" listings without a full
// files scan. Entries are maintained by FilesStore.PatchAccess.
type SharedStore struct {
	s *Store
}

// SharedPage is one page of the shared-with-me listing.
type SharedPage struct {
	Data   []*model.File `json:"data"`
	Cursor string        `json:"cursor,omitempty"`
}

// entryOp builds the batch op inserting a shared index entry.
func (sh *SharedStore) entryOp(entry model.SharedEntry) (kv.Op, error) {
	key, err := keys.Shared(entry.UserKey, entry.TargetKey)
	if err != nil {
		return kv.Op{}, model.WrapError(model.ErrInvalidInput, "forming shared key", err)
	}
	raw, err := marshal(entry)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.PutOp(NsShared, key, raw), nil
}

// deleteOp builds the batch op removing a shared index entry.
func (sh *SharedStore) deleteOp(userKey, targetKey string) (kv.Op, error) {
	key, err := keys.Shared(userKey, targetKey)
	if err != nil {
		return kv.Op{}, model.WrapError(model.ErrInvalidInput, "forming shared key", err)
	}
	return kv.DeleteOp(NsShared, key), nil
}

// List pages through the files shared with the user. Deleted targets
// are skipped; since restricts to files updated at or after the given
// time.
func (sh *SharedStore) List(ctx context.Context, userKey string, opts ListOptions) (*SharedPage, error) {
	state, err := sh.s.pageState(opts)
	if err != nil {
		return nil, err
	}

	prefix := keys.UserPrefix(userKey)
	start := prefix
	if state.LastKey != "" {
		start = afterKey(state.LastKey)
	}

	page := &SharedPage{Data: []*model.File{}}
	lastKey := state.LastKey

	entries, err := sh.s.kv.RangeAsc(ctx, NsShared, kv.RangeOptions{
		Start: start,
		End:   kv.PrefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		var shared model.SharedEntry
		if err := json.Unmarshal(entry.Value, &shared); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding shared entry", err)
		}
		lastKey = entry.Key

		file, err := sh.s.Files.readRaw(ctx, shared.TargetKey)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		deleted, err := sh.s.Files.isDeleted(ctx, file)
		if err != nil {
			return nil, err
		}
		if deleted {
			continue
		}
		if state.Since > 0 && file.Updated < state.Since {
			continue
		}

		page.Data = append(page.Data, file)
		if len(page.Data) >= state.Limit {
			break
		}
	}

	page.Cursor, err = sh.s.nextCursor(state, lastKey)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Has reports whether a shared entry exists for the user and file.
func (sh *SharedStore) Has(ctx context.Context, userKey, targetKey string) (bool, error) {
	key, err := keys.Shared(userKey, targetKey)
	if err != nil {
		return false, model.WrapError(model.ErrInvalidInput, "forming shared key", err)
	}
	_, err = sh.s.kv.Get(ctx, NsShared, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
