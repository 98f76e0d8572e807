package patch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiclient/api-store/pkg/model"
)

func doc(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var d map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	return d
}

func TestReplaceProducesInverse(t *testing.T) {
	e := NewEngine()
	d := doc(t, `{"info":{"name":"A"}}`)

	res, err := e.Apply(d, []model.PatchOp{{Op: "replace", Path: "/info/name", Value: "B"}})
	require.NoError(t, err)

	assert.Equal(t, "B", res.Document["info"].(map[string]interface{})["name"])
	require.Len(t, res.Inverse, 1)
	assert.Equal(t, "replace", res.Inverse[0].Op)
	assert.Equal(t, "/info/name", res.Inverse[0].Path)
	assert.Equal(t, "A", res.Inverse[0].Value)

	// The original document is untouched.
	assert.Equal(t, "A", d["info"].(map[string]interface{})["name"])
}

func TestAddAndRemoveInverses(t *testing.T) {
	e := NewEngine()
	d := doc(t, `{"tags":["a","b"],"info":{}}`)

	res, err := e.Apply(d, []model.PatchOp{
		{Op: "add", Path: "/info/name", Value: "X"},
		{Op: "add", Path: "/tags/1", Value: "mid"},
		{Op: "remove", Path: "/tags/0"},
	})
	require.NoError(t, err)

	tags := res.Document["tags"].([]interface{})
	assert.Equal(t, []interface{}{"mid", "b"}, tags)

	// Applying the inverse restores the original document.
	restored, err := e.Apply(res.Document, res.Inverse)
	require.NoError(t, err)
	assert.Equal(t, d, restored.Document)
}

func TestAddAppendWithDash(t *testing.T) {
	e := NewEngine()
	d := doc(t, `{"tags":["a"]}`)

	res, err := e.Apply(d, []model.PatchOp{{Op: "add", Path: "/tags/-", Value: "z"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "z"}, res.Document["tags"])

	// The inverse removes the concrete index the append landed on.
	require.Len(t, res.Inverse, 1)
	assert.Equal(t, "remove", res.Inverse[0].Op)
	assert.Equal(t, "/tags/1", res.Inverse[0].Path)
}

func TestAddOverExistingMemberInvertsToReplace(t *testing.T) {
	e := NewEngine()
	d := doc(t, `{"a":1}`)

	res, err := e.Apply(d, []model.PatchOp{{Op: "add", Path: "/a", Value: 2}})
	require.NoError(t, err)

	restored, err := e.Apply(res.Document, res.Inverse)
	require.NoError(t, err)
	assert.Equal(t, d, restored.Document)
}

func TestMoveAndCopy(t *testing.T) {
	e := NewEngine()
	d := doc(t, `{"a":{"x":1},"b":{}}`)

	res, err := e.Apply(d, []model.PatchOp{
		{Op: "move", From: "/a/x", Path: "/b/x"},
		{Op: "copy", From: "/b/x", Path: "/b/y"},
	})
	require.NoError(t, err)

	b := res.Document["b"].(map[string]interface{})
	assert.Equal(t, float64(1), b["x"])
	assert.Equal(t, float64(1), b["y"])
	assert.Empty(t, res.Document["a"])

	restored, err := e.Apply(res.Document, res.Inverse)
	require.NoError(t, err)
	assert.Equal(t, d, restored.Document)
}

func TestTestOp(t *testing.T) {
	e := NewEngine()
	d := doc(t, `{"a":1}`)

	_, err := e.Apply(d, []model.PatchOp{{Op: "test", Path: "/a", Value: 1}})
	assert.NoError(t, err)

	_, err = e.Apply(d, []model.PatchOp{{Op: "test", Path: "/a", Value: 2}})
	assert.Error(t, err)
}

func TestImmutablePaths(t *testing.T) {
	e := NewEngine("/key", "/kind", "/_deleted")
	d := doc(t, `{"key":"F1","kind":"Space","info":{"name":"A"}}`)

	for _, p := range []string{"/key", "/kind", "/_deleted", "/key/sub"} {
		_, err := e.Apply(d, []model.PatchOp{{Op: "replace", Path: p, Value: "x"}})
		require.Error(t, err, p)
		assert.Equal(t, model.ErrInvalidPatch, model.AsServiceError(err).Code)
	}

	// A non-immutable path under a similar name still works.
	_, err := e.Apply(d, []model.PatchOp{{Op: "replace", Path: "/info/name", Value: "B"}})
	assert.NoError(t, err)
}

func TestRejectsMalformedPatches(t *testing.T) {
	e := NewEngine()
	d := doc(t, `{"a":1}`)

	cases := [][]model.PatchOp{
		nil,
		{{Op: "frobnicate", Path: "/a"}},
		{{Op: "replace", Path: "no-slash", Value: 1}},
		{{Op: "replace", Path: "", Value: 1}},
		{{Op: "remove", Path: "/missing"}},
		{{Op: "add", Path: "/a/b", Value: 1}},
		{{Op: "move", From: "bad", Path: "/a"}},
	}
	for i, ops := range cases {
		_, err := e.Apply(d, ops)
		require.Error(t, err, "case %d", i)
		assert.Equal(t, model.ErrInvalidPatch, model.AsServiceError(err).Code, "case %d", i)
	}
}

// Property: for a set of documents and patches, applying the patch and
// then its inverse yields a document deep-equal to the original.
func TestInvertibilityProperty(t *testing.T) {
	e := NewEngine()

	docs := []string{
		`{"a":1,"b":{"c":[1,2,3]},"d":"x"}`,
		`{"list":[{"k":"v"},{"k":"w"}],"n":null}`,
		`{"nested":{"deep":{"deeper":{"value":42}}}}`,
	}
	patches := [][]model.PatchOp{
		{{Op: "replace", Path: "/a", Value: 99}},
		{{Op: "add", Path: "/b/c/1", Value: "inserted"}, {Op: "remove", Path: "/b/c/0"}},
		{{Op: "add", Path: "/new", Value: map[string]interface{}{"x": 1}}},
		{{Op: "move", From: "/a", Path: "/moved"}},
		{{Op: "copy", From: "/b", Path: "/bcopy"}},
	}

	for _, raw := range docs {
		for pi, ops := range patches {
			d := doc(t, raw)
			res, err := e.Apply(d, ops)
			if err != nil {
				// Patch does not apply to this document shape.
				continue
			}
			restored, err := e.Apply(res.Document, res.Inverse)
			require.NoError(t, err, "doc %s patch %d", raw, pi)
			assert.Equal(t, d, restored.Document, "doc %s patch %d", raw, pi)
		}
	}
}
