package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/apiclient/api-store/pkg/kv"
	"github.com/apiclient/api-store/pkg/model"
)

// projectKind tags project contents documents in tombstone and
// revision keys, keeping them distinct from the file metadata entity
// with the same key.
const projectKind = "Project"

// ProjectsStore persists HTTP project contents documents. The document
// is owned by its File record and shares the file's key; access checks
// run against the file. The first write goes through Add, later
// modifications flow through ApplyPatch only.
type ProjectsStore struct {
	s *Store
}

// Add stores a new contents document. The target file must exist, the
// caller needs writer on it, and the document must not exist yet.
func (p *ProjectsStore) Add(ctx context.Context, key string, doc json.RawMessage, userKey string) error {
	file, err := p.s.checkAccess(ctx, userKey, key, model.RoleWriter)
	if err != nil {
		return err
	}

	if _, err := p.readRaw(ctx, key); err == nil {
		return model.NewError(model.ErrConflict, "project contents already exist")
	} else if !model.IsNotFound(err) {
		return err
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return model.NewError(model.ErrInvalidInput, "project contents must be a JSON object")
	}

	if err := p.s.kv.Put(ctx, NsProjects, key, doc); err != nil {
		return err
	}

	p.notifyMedia(ctx, file, model.OpCreated, nil)
	return nil
}

// Read returns the contents document, requiring reader on the file.
// Tombstoned documents read as not found.
func (p *ProjectsStore) Read(ctx context.Context, key, userKey string) (json.RawMessage, error) {
	if _, err := p.s.checkAccess(ctx, userKey, key, model.RoleReader); err != nil {
		return nil, err
	}

	deleted, err := p.s.Bin.IsDeleted(ctx, projectKind, key)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, model.NewError(model.ErrNotFound, "project not found")
	}

	return p.readRaw(ctx, key)
}

// Delete tombstones the contents document, requiring owner on the
// file.
func (p *ProjectsStore) Delete(ctx context.Context, key, userKey string) error {
	file, err := p.s.checkAccess(ctx, userKey, key, model.RoleOwner)
	if err != nil {
		return err
	}
	if _, err := p.readRaw(ctx, key); err != nil {
		return err
	}

	doc := map[string]interface{}{}
	raw, _ := p.s.kv.Get(ctx, NsProjects, key)
	_ = json.Unmarshal(raw, &doc)
	doc["_deleted"] = true

	updated, err := marshal(doc)
	if err != nil {
		return err
	}
	binOp, err := p.s.Bin.entryOp(projectKind, userKey, key)
	if err != nil {
		return err
	}

	err = p.s.kv.Batch(ctx, []kv.Op{kv.PutOp(NsProjects, key, updated), binOp})
	if err != nil {
		return err
	}

	p.notifyMedia(ctx, file, model.OpDeleted, nil)
	return nil
}

// ApplyPatch applies a JSON patch to the contents document, requiring
// writer on the file. The first patch on a file without a document
// starts from an empty object. The reverse patch is persisted as a
// media revision and returned.
func (p *ProjectsStore) ApplyPatch(ctx context.Context, key string, ops []model.PatchOp, userKey string) (*PatchResult, error) {
	file, err := p.s.checkAccess(ctx, userKey, key, model.RoleWriter)
	if err != nil {
		return nil, err
	}

	deleted, err := p.s.Bin.IsDeleted(ctx, projectKind, key)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, model.NewError(model.ErrNotFound, "project not found")
	}

	doc := map[string]interface{}{}
	raw, err := p.readRaw(ctx, key)
	if err != nil && !model.IsNotFound(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, model.WrapError(model.ErrInternal, "decoding project", err)
		}
	}

	res, err := p.s.projectPatcher.Apply(doc, ops)
	if err != nil {
		return nil, err
	}

	updated, err := marshal(res.Document)
	if err != nil {
		return nil, err
	}
	revOp, err := p.s.Revisions.addOp(projectKind, key, res.Inverse, userKey, p.s.now())
	if err != nil {
		return nil, err
	}

	err = p.s.kv.Batch(ctx, []kv.Op{kv.PutOp(NsProjects, key, updated), revOp})
	if err != nil {
		return nil, err
	}

	p.notifyMedia(ctx, file, model.OpPatch, ops)
	return &PatchResult{Status: "OK", Revert: res.Inverse}, nil
}

func (p *ProjectsStore) readRaw(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := p.s.kv.Get(ctx, NsProjects, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, model.NewError(model.ErrNotFound, "project not found")
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// notifyMedia publishes an event scoped to the file's media URL.
func (p *ProjectsStore) notifyMedia(ctx context.Context, file *model.File, operation string, data interface{}) {
	chain, err := p.s.Files.loadChain(ctx, file)
	if err != nil {
		p.s.log.Warn().Err(err).Str("file", file.Key).Msg("skipping event, broken ancestor chain")
		return
	}
	users, anyone, err := p.s.authorizedUsers(ctx, append([]*model.File{file}, chain...))
	if err != nil {
		p.s.log.Warn().Err(err).Str("file", file.Key).Msg("skipping event, permission load failed")
		return
	}
	if anyone {
		users = nil
	}
	p.s.notify(
		model.NewEvent(operation, file.Kind, file.Key, data),
		model.EventFilter{Url: p.s.fileUrl(file.Key, true), Users: users},
	)
}
