package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiclient/api-store/pkg/model"
)

func addProject(t *testing.T, s *Store, key, owner string, doc string) {
	t.Helper()
	ctx := context.Background()
	addSpace(t, s, key+"-space", owner)
	addChild(t, s, key, model.KindHttpProject, key+"-space", owner)
	require.NoError(t, s.Projects.Add(ctx, key, json.RawMessage(doc), owner))
}

func TestProjectsAddAndRead(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addProject(t, s, "P1", user, `{"requests":[]}`)

	doc, err := s.Projects.Read(ctx, "P1", user)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requests":[]}`, string(doc))
}

func TestProjectsAddIsFirstWriteOnly(t *testing.T) {
	s := newTestStore(t, true)
	user := model.DefaultUserKey

	addProject(t, s, "P1", user, `{}`)
	err := s.Projects.Add(context.Background(), "P1", json.RawMessage(`{}`), user)
	assert.True(t, model.IsConflict(err))
}

func TestProjectsAddRejectsNonObject(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addSpace(t, s, "S1", user)
	addChild(t, s, "P1", model.KindHttpProject, "S1", user)

	err := s.Projects.Add(ctx, "P1", json.RawMessage(`[1,2]`), user)
	require.Error(t, err)
	assert.Equal(t, model.ErrInvalidInput, model.AsServiceError(err).Code)
}

func TestProjectsAddRequiresFile(t *testing.T) {
	s := newTestStore(t, true)
	err := s.Projects.Add(context.Background(), "nope", json.RawMessage(`{}`), model.DefaultUserKey)
	assert.True(t, model.IsNotFound(err))
}

func TestProjectsReadMasksUnauthorized(t *testing.T) {
	s := newTestStore(t, false)
	ctx := context.Background()
	addUser(t, s, "alice", "Alice")
	addUser(t, s, "bob", "Bob")

	addProject(t, s, "P1", "alice", `{}`)

	_, err := s.Projects.Read(ctx, "P1", "bob")
	assert.True(t, model.IsNotFound(err))
}

func TestProjectsApplyPatchAndRevert(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addProject(t, s, "P1", user, `{"requests":[],"name":"before"}`)

	res, err := s.Projects.ApplyPatch(ctx, "P1", []model.PatchOp{
		{Op: "replace", Path: "/name", Value: "after"},
		{Op: "add", Path: "/requests/-", Value: map[string]interface{}{"id": "r1"}},
	}, user)
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Status)

	doc, err := s.Projects.Read(ctx, "P1", user)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requests":[{"id":"r1"}],"name":"after"}`, string(doc))

	_, err = s.Projects.ApplyPatch(ctx, "P1", res.Revert, user)
	require.NoError(t, err)
	doc, err = s.Projects.Read(ctx, "P1", user)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requests":[],"name":"before"}`, string(doc))
}

func TestProjectsFirstPatchStartsEmpty(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addSpace(t, s, "S1", user)
	addChild(t, s, "P1", model.KindHttpProject, "S1", user)

	// No explicit Add: the first patch creates the document.
	_, err := s.Projects.ApplyPatch(ctx, "P1", []model.PatchOp{
		{Op: "add", Path: "/requests", Value: []interface{}{}},
	}, user)
	require.NoError(t, err)

	doc, err := s.Projects.Read(ctx, "P1", user)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requests":[]}`, string(doc))
}

func TestProjectsPatchImmutablePaths(t *testing.T) {
	s := newTestStore(t, true)
	user := model.DefaultUserKey
	addProject(t, s, "P1", user, `{}`)

	for _, path := range []string{"/key", "/kind", "/_deleted"} {
		_, err := s.Projects.ApplyPatch(context.Background(), "P1", []model.PatchOp{
			{Op: "add", Path: path, Value: "x"},
		}, user)
		require.Error(t, err, "path %s", path)
		assert.Equal(t, model.ErrInvalidPatch, model.AsServiceError(err).Code, "path %s", path)
	}
}

func TestProjectsDeleteTombstones(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addProject(t, s, "P1", user, `{}`)
	require.NoError(t, s.Projects.Delete(ctx, "P1", user))

	_, err := s.Projects.Read(ctx, "P1", user)
	assert.True(t, model.IsNotFound(err))

	_, err = s.Projects.ApplyPatch(ctx, "P1", []model.PatchOp{
		{Op: "add", Path: "/x", Value: 1},
	}, user)
	assert.True(t, model.IsNotFound(err))

	deleted, err := s.Bin.IsDeleted(ctx, projectKind, "P1")
	require.NoError(t, err)
	assert.True(t, deleted)

	// The file metadata stays readable.
	_, err = s.Files.Read(ctx, "P1", user)
	require.NoError(t, err)
}

func TestProjectsFileDeleteTombstonesContents(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addProject(t, s, "P1", user, `{}`)
	require.NoError(t, s.Files.Delete(ctx, "P1", user))

	deleted, err := s.Bin.IsDeleted(ctx, projectKind, "P1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestProjectsMediaEvents(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	media := &recordingChannel{}
	metadata := &recordingChannel{}
	s.bus.Register(media, "/v1/files/P1?alt=media", model.DefaultUser(), "sid-1")
	s.bus.Register(metadata, "/v1/files/P1", model.DefaultUser(), "sid-2")

	addProject(t, s, "P1", user, `{"requests":[]}`)
	patch := []model.PatchOp{{Op: "add", Path: "/name", Value: "n"}}
	_, err := s.Projects.ApplyPatch(ctx, "P1", patch, user)
	require.NoError(t, err)

	events := media.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, model.OpCreated, events[0].Operation)
	assert.Equal(t, model.OpPatch, events[1].Operation)
	assert.Equal(t, model.KindHttpProject, events[1].Kind)
	assert.Equal(t, "P1", events[1].Id)

	// Metadata subscribers see the file creation but no media traffic.
	for _, e := range metadata.recorded() {
		assert.NotEqual(t, model.OpPatch, e.Operation)
	}
}

func TestRevisionsListNewestFirst(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addSpace(t, s, "S1", user)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		_, err := s.Files.ApplyPatch(ctx, "S1", []model.PatchOp{
			{Op: "replace", Path: "/info/name", Value: i},
		}, user)
		require.NoError(t, err)
	}

	page, err := s.Revisions.List(ctx, "S1", user, false, ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Data, 3)

	for i := 0; i < len(page.Data)-1; i++ {
		assert.GreaterOrEqual(t, page.Data[i].Created, page.Data[i+1].Created)
	}
	for _, rev := range page.Data {
		assert.Equal(t, "S1", rev.Id)
		assert.Equal(t, model.KindSpace, rev.Kind)
		assert.Equal(t, user, rev.Modification.User)
		require.Len(t, rev.Patch, 1)
		assert.Equal(t, "replace", rev.Patch[0].Op)
	}
}

func TestRevisionsMediaLogIsSeparate(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	user := model.DefaultUserKey

	addProject(t, s, "P1", user, `{"name":"a"}`)

	_, err := s.Projects.ApplyPatch(ctx, "P1", []model.PatchOp{
		{Op: "replace", Path: "/name", Value: "b"},
	}, user)
	require.NoError(t, err)
	_, err = s.Files.ApplyPatch(ctx, "P1", []model.PatchOp{
		{Op: "replace", Path: "/info/name", Value: "b"},
	}, user)
	require.NoError(t, err)

	media, err := s.Revisions.List(ctx, "P1", user, true, ListOptions{})
	require.NoError(t, err)
	require.Len(t, media.Data, 1)
	assert.Equal(t, projectKind, media.Data[0].Kind)

	meta, err := s.Revisions.List(ctx, "P1", user, false, ListOptions{})
	require.NoError(t, err)
	require.Len(t, meta.Data, 1)
	assert.Equal(t, model.KindHttpProject, meta.Data[0].Kind)
}

func TestRevisionsListChecksAccess(t *testing.T) {
	s := newTestStore(t, false)
	addUser(t, s, "alice", "Alice")
	addUser(t, s, "bob", "Bob")

	addSpace(t, s, "S1", "alice")

	_, err := s.Revisions.List(context.Background(), "S1", "bob", false, ListOptions{})
	assert.True(t, model.IsNotFound(err))
}
