package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// FilesStore is the tree-structured store of workspace files: spaces,
// folders, and leaf kinds such as HTTP projects. Files carry their
// ancestor chain in parents (nearest-last) and inherit permissions by
// reference. Deletion is a soft tombstone on the subtree root;
// descendants infer deletion from the ancestor chain.
type FilesStore struct {
	s *Store
}

// FilesPage is one page of a file listing.
type FilesPage struct {
	Data   []*model.File `json:"data"`
	Cursor string        `json:"cursor,omitempty"`
}

// AddOptions parameterize file creation.
type AddOptions struct {
	// Parent is the key of the folder the file is created in. Empty
	// creates a root-level file.
	Parent string
}

// AccessOp is one entry of a PatchAccess operation list.
type AccessOp struct {
	Op   string               `json:"op"`
	Type model.PermissionType `json:"type"`
	Id   string               `json:"id,omitempty"`
	Role model.Role           `json:"role,omitempty"`
}

// PatchResult carries the revert patch produced by a reversible
// mutation.
type PatchResult struct {
	Status string          `json:"status"`
	Revert []model.PatchOp `json:"revert"`
}

// Add creates a file. The key must be unused; when a parent is given
// it must exist, be a folder kind, and not be deleted. The file
// inherits the parent's permissions by reference, and the creator is
// granted owner on root files.
func (f *FilesStore) Add(ctx context.Context, key string, file *model.File, userKey string, opts AddOptions) error {
	if key == "" || file.Kind == "" {
		return model.NewError(model.ErrInvalidInput, "file key and kind are required")
	}

	if _, err := f.readRaw(ctx, key); err == nil {
		return model.NewError(model.ErrConflict, "a file with this key already exists")
	} else if !model.IsNotFound(err) {
		return err
	}

	now := f.s.now().UnixMilli()
	file.Key = key
	file.Owner = userKey
	file.Deleted = false
	file.Created = now
	file.Updated = now
	file.LastModified = model.Modification{User: userKey, Time: now}
	file.Parents = nil
	file.PermissionIds = nil

	var ops []kv.Op

	if opts.Parent != "" {
		parent, err := f.s.checkAccess(ctx, userKey, opts.Parent, model.RoleWriter)
		if err != nil {
			return err
		}
		if !model.IsFolderKind(parent.Kind) {
			return model.NewError(model.ErrInvalidInput, "parent is not a folder")
		}
		file.Parents = append(append([]string{}, parent.Parents...), parent.Key)
		file.PermissionIds = append([]string{}, parent.PermissionIds...)
	} else {
		// Root files get an explicit owner grant for the creator.
		perm := &model.Permission{
			Key:        uuid.NewString(),
			Kind:       model.KindPermission,
			Type:       model.PermissionUser,
			Role:       model.RoleOwner,
			Owner:      userKey,
			AddingUser: userKey,
		}
		raw, err := marshal(perm)
		if err != nil {
			return err
		}
		ops = append(ops, kv.PutOp(NsPermissions, perm.Key, raw))
		file.PermissionIds = []string{perm.Key}
	}

	raw, err := marshal(file)
	if err != nil {
		return err
	}
	ops = append(ops, kv.PutOp(NsFiles, key, raw))

	if err := f.s.kv.Batch(ctx, ops); err != nil {
		return err
	}

	chain, err := f.loadChain(ctx, file)
	if err != nil {
		return err
	}
	users, anyone, err := f.s.authorizedUsers(ctx, append([]*model.File{file}, chain...))
	if err != nil {
		return err
	}
	if anyone {
		users = nil
	}
	f.s.notify(
		model.NewEvent(model.OpCreated, file.Kind, key, file),
		model.EventFilter{Url: f.s.fileUrl(key, false), Users: users},
	)
	return nil
}

// Read returns the file when the user holds at least reader and no
// ancestor is deleted. Missing and unauthorized are indistinguishable.
func (f *FilesStore) Read(ctx context.Context, key, userKey string) (*model.File, error) {
	return f.s.checkAccess(ctx, userKey, key, model.RoleReader)
}

// List pages through the files visible to the user: children of
// options.Parent when set (requires reader on the parent), otherwise
// the union of root files owned by the user and roots from the shared
// index. Ordering is by key ascending.
func (f *FilesStore) List(ctx context.Context, userKey string, opts ListOptions) (*FilesPage, error) {
	state, err := f.s.pageState(opts)
	if err != nil {
		return nil, err
	}

	if state.Parent != "" {
		if _, err := f.s.checkAccess(ctx, userKey, state.Parent, model.RoleReader); err != nil {
			return nil, err
		}
	}

	page := &FilesPage{Data: []*model.File{}}
	lastKey := state.LastKey

	entries, err := f.s.kv.RangeAsc(ctx, NsFiles, kv.RangeOptions{Start: afterKey(state.LastKey)})
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		var file model.File
		if err := json.Unmarshal(entry.Value, &file); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding file", err)
		}
		lastKey = entry.Key

		ok, err := f.listed(ctx, &file, userKey, state.Parent)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if state.Since > 0 && file.Updated < state.Since {
			continue
		}

		copied := file
		page.Data = append(page.Data, &copied)
		if len(page.Data) >= state.Limit {
			break
		}
	}

	page.Cursor, err = f.s.nextCursor(state, lastKey)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// listed decides whether a file belongs to the listing scope.
func (f *FilesStore) listed(ctx context.Context, file *model.File, userKey, parent string) (bool, error) {
	deleted, err := f.isDeleted(ctx, file)
	if err != nil || deleted {
		return false, err
	}

	if parent != "" {
		return len(file.Parents) > 0 && file.Parents[len(file.Parents)-1] == parent, nil
	}

	if len(file.Parents) > 0 {
		return false, nil
	}
	if file.Owner == userKey {
		return true, nil
	}
	if f.s.singleUser && userKey == model.DefaultUserKey {
		return true, nil
	}
	return f.s.Shared.Has(ctx, userKey, file.Key)
}

// Delete soft-deletes the subtree rooted at key. It requires owner,
// marks the root deleted, tombstones the root and its own permissions,
// and emits one deleted event per affected file. Descendants are not
// rewritten.
func (f *FilesStore) Delete(ctx context.Context, key, userKey string) error {
	file, err := f.s.checkAccess(ctx, userKey, key, model.RoleOwner)
	if err != nil {
		return err
	}

	chain, err := f.loadChain(ctx, file)
	if err != nil {
		return err
	}

	file.Deleted = true
	file.Updated = f.s.now().UnixMilli()
	file.LastModified = model.Modification{User: userKey, Time: file.Updated}

	raw, err := marshal(file)
	if err != nil {
		return err
	}
	ops := []kv.Op{kv.PutOp(NsFiles, key, raw)}

	binOp, err := f.s.Bin.entryOp(file.Kind, userKey, key)
	if err != nil {
		return err
	}
	ops = append(ops, binOp)

	// Tombstone the permissions attached at this file (inherited ids
	// stay live on the ancestors that own them).
	inherited := map[string]bool{}
	if len(chain) > 0 {
		for _, id := range chain[0].PermissionIds {
			inherited[id] = true
		}
	}
	perms, err := f.s.loadPermissions(ctx, file.PermissionIds)
	if err != nil {
		return err
	}
	for _, perm := range perms {
		if inherited[perm.Key] || perm.Deleted {
			continue
		}
		perm.Deleted = true
		raw, err := marshal(perm)
		if err != nil {
			return err
		}
		ops = append(ops, kv.PutOp(NsPermissions, perm.Key, raw))
	}

	// A leaf with a contents document tombstones the document with it.
	if _, err := f.s.Projects.readRaw(ctx, key); err == nil {
		projectBin, err := f.s.Bin.entryOp(projectKind, userKey, key)
		if err != nil {
			return err
		}
		ops = append(ops, projectBin)
	} else if !model.IsNotFound(err) {
		return err
	}

	if err := f.s.kv.Batch(ctx, ops); err != nil {
		return err
	}

	users, anyone, err := f.s.authorizedUsers(ctx, append([]*model.File{file}, chain...))
	if err != nil {
		return err
	}
	if anyone {
		users = nil
	}

	f.s.notify(
		model.NewEvent(model.OpDeleted, file.Kind, key, nil),
		model.EventFilter{Url: f.s.fileUrl(key, false), Users: users},
	)

	descendants, err := f.descendants(ctx, key)
	if err != nil {
		return err
	}
	for _, desc := range descendants {
		f.s.notify(
			model.NewEvent(model.OpDeleted, desc.Kind, desc.Key, nil),
			model.EventFilter{Url: f.s.fileUrl(desc.Key, false), Users: users},
		)
	}
	return nil
}

// ApplyPatch applies a JSON patch to the file metadata, requiring
// writer. The reverse patch is persisted as a revision and returned to
// the caller; subscribers receive the forward patch.
func (f *FilesStore) ApplyPatch(ctx context.Context, key string, ops []model.PatchOp, userKey string) (*PatchResult, error) {
	file, err := f.s.checkAccess(ctx, userKey, key, model.RoleWriter)
	if err != nil {
		return nil, err
	}

	doc, err := toDocument(file)
	if err != nil {
		return nil, err
	}
	res, err := f.s.filePatcher.Apply(doc, ops)
	if err != nil {
		return nil, err
	}

	now := f.s.now()
	res.Document["updated"] = now.UnixMilli()
	res.Document["lastModified"] = map[string]interface{}{"user": userKey, "time": now.UnixMilli()}

	raw, err := marshal(res.Document)
	if err != nil {
		return nil, err
	}

	revOp, err := f.s.Revisions.addOp(file.Kind, key, res.Inverse, userKey, now)
	if err != nil {
		return nil, err
	}

	err = f.s.kv.Batch(ctx, []kv.Op{kv.PutOp(NsFiles, key, raw), revOp})
	if err != nil {
		return nil, err
	}

	chain, err := f.loadChain(ctx, file)
	if err != nil {
		return nil, err
	}
	users, anyone, err := f.s.authorizedUsers(ctx, append([]*model.File{file}, chain...))
	if err != nil {
		return nil, err
	}
	if anyone {
		users = nil
	}
	f.s.notify(
		model.NewEvent(model.OpPatch, file.Kind, key, ops),
		model.EventFilter{Url: f.s.fileUrl(key, false), Users: users},
	)

	return &PatchResult{Status: "OK", Revert: res.Inverse}, nil
}

// PatchAccess applies an access-operation list, requiring owner. An
// add granting a user outside the ancestor set inserts a shared index
// entry; a remove deletes it.
func (f *FilesStore) PatchAccess(ctx context.Context, key string, accessOps []AccessOp, userKey string) error {
	file, err := f.s.checkAccess(ctx, userKey, key, model.RoleOwner)
	if err != nil {
		return err
	}
	chain, err := f.loadChain(ctx, file)
	if err != nil {
		return err
	}

	ancestry, _, err := f.s.authorizedUsers(ctx, append([]*model.File{file}, chain...))
	if err != nil {
		return err
	}
	inTree := map[string]bool{}
	for _, u := range ancestry {
		inTree[u] = true
	}

	perms, err := f.s.loadPermissions(ctx, file.PermissionIds)
	if err != nil {
		return err
	}

	var ops []kv.Op
	permissionIds := append([]string{}, file.PermissionIds...)

	for _, op := range accessOps {
		switch op.Op {
		case "add":
			if !model.ValidRole(op.Role) {
				return model.NewError(model.ErrInvalidInput, "invalid role")
			}
			if op.Type != model.PermissionAnyone && op.Id == "" {
				return model.NewError(model.ErrInvalidInput, "grant target id is required")
			}
			perm := &model.Permission{
				Key:        uuid.NewString(),
				Kind:       model.KindPermission,
				Type:       op.Type,
				Role:       op.Role,
				Owner:      op.Id,
				AddingUser: userKey,
			}
			raw, err := marshal(perm)
			if err != nil {
				return err
			}
			ops = append(ops, kv.PutOp(NsPermissions, perm.Key, raw))
			permissionIds = append(permissionIds, perm.Key)

			if op.Type == model.PermissionUser && !inTree[op.Id] {
				sharedOp, err := f.s.Shared.entryOp(model.SharedEntry{
					TargetKey: key,
					UserKey:   op.Id,
					Kind:      file.Kind,
					Parents:   file.Parents,
				})
				if err != nil {
					return err
				}
				ops = append(ops, sharedOp)
			}

		case "remove":
			for _, perm := range perms {
				if perm.Deleted || perm.Type != op.Type {
					continue
				}
				if op.Type != model.PermissionAnyone && perm.Owner != op.Id {
					continue
				}
				perm.Deleted = true
				raw, err := marshal(perm)
				if err != nil {
					return err
				}
				ops = append(ops, kv.PutOp(NsPermissions, perm.Key, raw))
				permissionIds = removeString(permissionIds, perm.Key)
			}
			if op.Type == model.PermissionUser && op.Id != "" {
				sharedOp, err := f.s.Shared.deleteOp(op.Id, key)
				if err != nil {
					return err
				}
				ops = append(ops, sharedOp)
			}

		default:
			return model.NewError(model.ErrInvalidInput, "unknown access operation")
		}
	}

	file.PermissionIds = permissionIds
	file.Updated = f.s.now().UnixMilli()
	file.LastModified = model.Modification{User: userKey, Time: file.Updated}
	raw, err := marshal(file)
	if err != nil {
		return err
	}
	ops = append(ops, kv.PutOp(NsFiles, key, raw))

	if err := f.s.kv.Batch(ctx, ops); err != nil {
		return err
	}

	users, anyone, err := f.s.authorizedUsers(ctx, append([]*model.File{file}, chain...))
	if err != nil {
		return err
	}
	if anyone {
		users = nil
	}
	f.s.notify(
		model.NewEvent(model.OpAccessChange, file.Kind, key, accessOps),
		model.EventFilter{Url: f.s.fileUrl(key, false), Users: users},
	)
	return nil
}

// Permissions returns the active grants on a file, requiring reader.
func (f *FilesStore) Permissions(ctx context.Context, key, userKey string) ([]*model.Permission, error) {
	file, err := f.s.checkAccess(ctx, userKey, key, model.RoleReader)
	if err != nil {
		return nil, err
	}
	perms, err := f.s.loadPermissions(ctx, file.PermissionIds)
	if err != nil {
		return nil, err
	}
	active := perms[:0]
	now := f.s.now()
	for _, perm := range perms {
		if perm.Deleted || perm.Expired(now) {
			continue
		}
		active = append(active, perm)
	}
	return active, nil
}

// ---------------------------------------------------------------------------
// internal helpers
// ---------------------------------------------------------------------------

// readRaw loads a file without any access or tombstone checks.
func (f *FilesStore) readRaw(ctx context.Context, key string) (*model.File, error) {
	raw, err := f.s.kv.Get(ctx, NsFiles, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, model.NewError(model.ErrNotFound, "file not found")
	}
	if err != nil {
		return nil, err
	}
	var file model.File
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, model.WrapError(model.ErrInternal, "decoding file", err)
	}
	return &file, nil
}

// loadChain loads the file's ancestors nearest-first. A dangling
// parent reference fails the read.
func (f *FilesStore) loadChain(ctx context.Context, file *model.File) ([]*model.File, error) {
	chain := make([]*model.File, 0, len(file.Parents))
	for i := len(file.Parents) - 1; i >= 0; i-- {
		parent, err := f.readRaw(ctx, file.Parents[i])
		if err != nil {
			return nil, err
		}
		chain = append(chain, parent)
	}
	return chain, nil
}

// isDeleted reports whether the file or any ancestor carries the
// tombstone flag.
func (f *FilesStore) isDeleted(ctx context.Context, file *model.File) (bool, error) {
	if file.Deleted {
		return true, nil
	}
	chain, err := f.loadChain(ctx, file)
	if err != nil {
		return false, err
	}
	for _, node := range chain {
		if node.Deleted {
			return true, nil
		}
	}
	return false, nil
}

// descendants scans for files carrying key in their parents chain.
func (f *FilesStore) descendants(ctx context.Context, key string) ([]*model.File, error) {
	entries, err := f.s.kv.RangeAsc(ctx, NsFiles, kv.RangeOptions{})
	if err != nil {
		return nil, err
	}
	var result []*model.File
	for _, entry := range entries {
		var file model.File
		if err := json.Unmarshal(entry.Value, &file); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding file", err)
		}
		for _, parent := range file.Parents {
			if parent == key {
				copied := file
				result = append(result, &copied)
				break
			}
		}
	}
	return result, nil
}

// toDocument converts a file to the generic document form the patch
// engine operates on.
func toDocument(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, model.WrapError(model.ErrInternal, "encoding document", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, model.WrapError(model.ErrInternal, "decoding document", err)
	}
	return doc, nil
}

func removeString(list []string, value string) []string {
	out := list[:0]
	for _, s := range list {
		if s != value {
			out = append(out, s)
		}
	}
	return out
}
