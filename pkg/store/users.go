package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// UsersStore persists account records. Users are created on first
// successful OIDC login, or implicitly as the default user in
// single-user mode. They are never hard-deleted.
type UsersStore struct {
	s *Store
}

// UsersPage is one page of a user listing.
type UsersPage struct {
	Data   []*model.User `json:"data"`
	Cursor string        `json:"cursor,omitempty"`
}

// Add stores a user record.
func (u *UsersStore) Add(ctx context.Context, user *model.User) error {
	if user.Key == "" {
		return model.NewError(model.ErrInvalidInput, "user key is required")
	}
	user.Kind = model.KindUser

	raw, err := marshal(user)
	if err != nil {
		return err
	}
	return u.s.kv.Put(ctx, NsUsers, user.Key, raw)
}

// Read returns the user with the given key.
func (u *UsersStore) Read(ctx context.Context, key string) (*model.User, error) {
	raw, err := u.s.kv.Get(ctx, NsUsers, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, model.NewError(model.ErrNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, model.WrapError(model.ErrInternal, "decoding user", err)
	}
	return &user, nil
}

// FindByProviderSub locates the user created from an OIDC identity.
func (u *UsersStore) FindByProviderSub(ctx context.Context, provider, sub string) (*model.User, error) {
	var found *model.User
	err := u.scan(ctx, func(user *model.User) bool {
		if user.Provider == provider && user.Sub == sub {
			found = user
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, model.NewError(model.ErrNotFound, "user not found")
	}
	return found, nil
}

// List pages through users. A query performs a case-insensitive
// substring match on name and email, or on the field named by
// queryField.
func (u *UsersStore) List(ctx context.Context, opts ListOptions) (*UsersPage, error) {
	state, err := u.s.pageState(opts)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(state.Query)
	page := &UsersPage{Data: []*model.User{}}
	lastKey := state.LastKey

	entries, err := u.s.kv.RangeAsc(ctx, NsUsers, kv.RangeOptions{Start: afterKey(state.LastKey)})
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		var user model.User
		if err := json.Unmarshal(entry.Value, &user); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding user", err)
		}
		lastKey = entry.Key
		if query != "" && !userMatches(&user, query, state.QueryField) {
			continue
		}
		page.Data = append(page.Data, &user)
		if len(page.Data) >= state.Limit {
			break
		}
	}

	page.Cursor, err = u.s.nextCursor(state, lastKey)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func userMatches(user *model.User, query, field string) bool {
	switch field {
	case "name":
		return strings.Contains(strings.ToLower(user.Name), query)
	case "email":
		return strings.Contains(strings.ToLower(user.Email), query)
	default:
		return strings.Contains(strings.ToLower(user.Name), query) ||
			strings.Contains(strings.ToLower(user.Email), query)
	}
}

func (u *UsersStore) scan(ctx context.Context, fn func(*model.User) bool) error {
	entries, err := u.s.kv.RangeAsc(ctx, NsUsers, kv.RangeOptions{})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		var user model.User
		if err := json.Unmarshal(entry.Value, &user); err != nil {
			return model.WrapError(model.ErrInternal, "decoding user", err)
		}
		if !fn(&user) {
			return nil
		}
	}
	return nil
}
