package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// Access control resolves a user's role on a file over the file's
// ancestry. Roles are max-of-roles across the chain: an explicit grant
// can never narrow a role inherited from an ancestor, and owner on an
// ancestor implies owner on the descendant. Expired permissions are
// treated as absent.

// Resolve walks the file and its ancestors and returns the strongest
// role userKey holds, or RoleNone.
func (s *Store) Resolve(ctx context.Context, userKey, fileKey string) (model.Role, error) {
	file, err := s.Files.readRaw(ctx, fileKey)
	if err != nil {
		return model.RoleNone, err
	}
	chain, err := s.Files.loadChain(ctx, file)
	if err != nil {
		return model.RoleNone, err
	}
	return s.resolveChain(ctx, userKey, append([]*model.File{file}, chain...))
}

// resolveChain computes the max role over an already-loaded chain.
func (s *Store) resolveChain(ctx context.Context, userKey string, chain []*model.File) (model.Role, error) {
	if s.singleUser && userKey == model.DefaultUserKey {
		return model.RoleOwner, nil
	}

	role := model.RoleNone
	for _, file := range chain {
		if file.Owner == userKey {
			return model.RoleOwner, nil
		}
		perms, err := s.loadPermissions(ctx, file.PermissionIds)
		if err != nil {
			return model.RoleNone, err
		}
		now := s.now()
		for _, perm := range perms {
			if perm.Deleted || perm.Expired(now) {
				continue
			}
			switch perm.Type {
			case model.PermissionUser:
				if perm.Owner == userKey {
					role = role.Max(perm.Role)
				}
			case model.PermissionAnyone:
				role = role.Max(perm.Role)
			}
		}
		if role == model.RoleOwner {
			return role, nil
		}
	}
	return role, nil
}

// checkAccess loads the file and verifies userKey holds at least the
// required role. A missing file, a deleted file, and a file the user
// cannot see at all surface identically as not-found; a user with some
// role below the requirement gets not-authorized.
func (s *Store) checkAccess(ctx context.Context, userKey, fileKey string, required model.Role) (*model.File, error) {
	file, err := s.Files.readRaw(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	chain, err := s.Files.loadChain(ctx, file)
	if err != nil {
		return nil, err
	}

	full := append([]*model.File{file}, chain...)
	role, err := s.resolveChain(ctx, userKey, full)
	if err != nil {
		return nil, err
	}
	if role == model.RoleNone {
		return nil, model.NewError(model.ErrNotFound, "file not found")
	}

	for _, node := range full {
		if node.Deleted {
			return nil, model.NewError(model.ErrNotFound, "file not found")
		}
	}

	if !role.AtLeast(required) {
		return nil, model.NewError(model.ErrNotAuthorized, "insufficient role")
	}
	return file, nil
}

// authorizedUsers collects the users allowed to observe events on the
// chain. The boolean reports an "anyone" grant, in which case the user
// filter must stay open.
func (s *Store) authorizedUsers(ctx context.Context, chain []*model.File) ([]string, bool, error) {
	seen := map[string]bool{}
	var users []string
	add := func(key string) {
		if key != "" && !seen[key] {
			seen[key] = true
			users = append(users, key)
		}
	}

	now := s.now()
	for _, file := range chain {
		add(file.Owner)
		perms, err := s.loadPermissions(ctx, file.PermissionIds)
		if err != nil {
			return nil, false, err
		}
		for _, perm := range perms {
			if perm.Deleted || perm.Expired(now) {
				continue
			}
			if perm.Type == model.PermissionAnyone {
				return nil, true, nil
			}
			if perm.Type == model.PermissionUser {
				add(perm.Owner)
			}
		}
	}
	return users, false, nil
}

// loadPermissions reads permission records by id. Dangling references
// are skipped.
func (s *Store) loadPermissions(ctx context.Context, ids []string) ([]*model.Permission, error) {
	perms := make([]*model.Permission, 0, len(ids))
	for _, id := range ids {
		raw, err := s.kv.Get(ctx, NsPermissions, id)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var perm model.Permission
		if err := json.Unmarshal(raw, &perm); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding permission", err)
		}
		perms = append(perms, &perm)
	}
	return perms, nil
}
