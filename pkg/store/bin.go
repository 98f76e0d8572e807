package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/apiclient/api-store/pkg/keys"
	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// BinStore is the soft-delete index. A tombstone's presence
// short-circuits reads of the deleted entity; entries are permanent.
type BinStore struct {
	s *Store
}

// entryOp builds the batch op inserting a tombstone.
func (b *BinStore) entryOp(kind, deletedBy string, ids ...string) (kv.Op, error) {
	key, err := keys.Deleted(kind, ids...)
	if err != nil {
		return kv.Op{}, model.WrapError(model.ErrInvalidInput, "forming tombstone key", err)
	}
	entry := model.BinEntry{
		Key:         key,
		DeletedTime: b.s.now().UnixMilli(),
		DeletedBy:   deletedBy,
	}
	raw, err := marshal(entry)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.PutOp(NsBin, key, raw), nil
}

// Add inserts a tombstone outside a larger batch.
func (b *BinStore) Add(ctx context.Context, kind, deletedBy string, ids ...string) error {
	op, err := b.entryOp(kind, deletedBy, ids...)
	if err != nil {
		return err
	}
	return b.s.kv.Batch(ctx, []kv.Op{op})
}

// IsDeleted reports whether a tombstone exists for the entity.
func (b *BinStore) IsDeleted(ctx context.Context, kind string, ids ...string) (bool, error) {
	key, err := keys.Deleted(kind, ids...)
	if err != nil {
		return false, model.WrapError(model.ErrInvalidInput, "forming tombstone key", err)
	}
	_, err = b.s.kv.Get(ctx, NsBin, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Read returns a tombstone record.
func (b *BinStore) Read(ctx context.Context, kind string, ids ...string) (*model.BinEntry, error) {
	key, err := keys.Deleted(kind, ids...)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, "forming tombstone key", err)
	}
	raw, err := b.s.kv.Get(ctx, NsBin, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, model.NewError(model.ErrNotFound, "entry not found")
	}
	if err != nil {
		return nil, err
	}

	var entry model.BinEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, model.WrapError(model.ErrInternal, "decoding bin entry", err)
	}
	return &entry, nil
}
