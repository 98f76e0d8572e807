package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apiclient/api-store/pkg/keys"
	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// RevisionsStore is the append-only log of reverse patches. Keys embed
// an inverse timestamp so a forward scan lists newest-first; revisions
// outlive their subject and are idempotent by key.
type RevisionsStore struct {
	s *Store
}

// RevisionsPage is one page of a revision listing.
type RevisionsPage struct {
	Data   []*model.Revision `json:"data"`
	Cursor string            `json:"cursor,omitempty"`
}

// addOp builds the batch op appending a revision, so callers can
// persist it atomically with the mutation it reverses.
func (r *RevisionsStore) addOp(kind, fileKey string, reverse []model.PatchOp, userKey string, at time.Time) (kv.Op, error) {
	key, err := keys.Revision(kind, fileKey, at)
	if err != nil {
		return kv.Op{}, model.WrapError(model.ErrInvalidInput, "forming revision key", err)
	}
	rev := model.Revision{
		Key:     key,
		Kind:    kind,
		Id:      fileKey,
		Created: at.UnixMilli(),
		Patch:   reverse,
		Modification: model.Modification{
			User: userKey,
			Time: at.UnixMilli(),
		},
	}
	raw, err := marshal(rev)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.PutOp(NsRevisions, key, raw), nil
}

// Add appends a revision outside a larger batch.
func (r *RevisionsStore) Add(ctx context.Context, kind, fileKey string, reverse []model.PatchOp, userKey string) error {
	op, err := r.addOp(kind, fileKey, reverse, userKey, r.s.now())
	if err != nil {
		return err
	}
	return r.s.kv.Batch(ctx, []kv.Op{op})
}

// List pages through a file's revisions newest-first. Authorization
// mirrors Read on the underlying file. When media is set the media
// revision log is listed instead of the metadata one.
func (r *RevisionsStore) List(ctx context.Context, fileKey, userKey string, media bool, opts ListOptions) (*RevisionsPage, error) {
	file, err := r.s.checkAccess(ctx, userKey, fileKey, model.RoleReader)
	if err != nil {
		return nil, err
	}

	kind := file.Kind
	if media {
		kind = projectKind
	}
	prefix, err := keys.RevisionPrefix(kind, fileKey)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, "forming revision prefix", err)
	}

	state, err := r.s.pageState(opts)
	if err != nil {
		return nil, err
	}

	start := prefix
	if state.LastKey != "" {
		start = afterKey(state.LastKey)
	}

	entries, err := r.s.kv.RangeAsc(ctx, NsRevisions, kv.RangeOptions{
		Start: start,
		End:   kv.PrefixEnd(prefix),
		Limit: state.Limit,
	})
	if err != nil {
		return nil, err
	}

	page := &RevisionsPage{Data: []*model.Revision{}}
	lastKey := state.LastKey
	for _, entry := range entries {
		var rev model.Revision
		if err := json.Unmarshal(entry.Value, &rev); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding revision", err)
		}
		lastKey = entry.Key
		page.Data = append(page.Data, &rev)
	}

	page.Cursor, err = r.s.nextCursor(state, lastKey)
	if err != nil {
		return nil, err
	}
	return page, nil
}
