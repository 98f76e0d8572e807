package keys

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSplitRoundTrip(t *testing.T) {
	cases := [][]string{
		{"del", "Space", "f1"},
		{"User", "abc", "2024-01-01T00:00:00Z", "u1"},
		{"one"},
		{"a", "b", "c", "d", "e"},
	}
	for _, components := range cases {
		key, err := Join(components...)
		require.NoError(t, err)
		assert.Equal(t, components, Split(key))
	}
}

func TestJoinRejectsSeparator(t *testing.T) {
	_, err := Join("Space", "bad~id")
	assert.Error(t, err)

	_, err = Join("Space", "")
	assert.Error(t, err)

	_, err = Join()
	assert.Error(t, err)
}

func TestEncodeComponentRoundTrip(t *testing.T) {
	for _, s := range []string{"plain", "with~tilde", "with/slash=and+plus", "ünïcödé"} {
		got, err := DecodeComponent(EncodeComponent(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestDeletedMarker(t *testing.T) {
	key, err := Deleted("Space", "f1")
	require.NoError(t, err)
	assert.Equal(t, "del~Space~f1", key)

	kind, ids, err := ParseDeleted(key)
	require.NoError(t, err)
	assert.Equal(t, "Space", kind)
	assert.Equal(t, []string{"f1"}, ids)

	key, err = Deleted("Permission", "f1", "p2")
	require.NoError(t, err)
	kind, ids, err = ParseDeleted(key)
	require.NoError(t, err)
	assert.Equal(t, "Permission", kind)
	assert.Equal(t, []string{"f1", "p2"}, ids)

	_, _, err = ParseDeleted("Space~f1")
	assert.Error(t, err)
}

func TestInverseTimeOrdering(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(time.Millisecond),
		base.Add(time.Minute),
		base.Add(48 * time.Hour),
	}

	var encoded []string
	for _, tm := range times {
		encoded = append(encoded, InverseTime(tm))
	}

	sorted := append([]string(nil), encoded...)
	sort.Strings(sorted)

	// Lexicographic ascending order must be newest-first.
	for i := range sorted {
		assert.Equal(t, encoded[len(encoded)-1-i], sorted[i])
	}
}

func TestInverseTimeRoundTrip(t *testing.T) {
	tm := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got, err := ParseInverseTime(InverseTime(tm))
	require.NoError(t, err)
	assert.Equal(t, tm, got)

	_, err = ParseInverseTime("not-a-number")
	assert.Error(t, err)
}

func TestRevisionKey(t *testing.T) {
	tm := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	key, err := Revision("HttpProject", "p1", tm)
	require.NoError(t, err)

	parts := Split(key)
	require.Len(t, parts, 3)
	assert.Equal(t, "HttpProject", parts[0])
	assert.Equal(t, "p1", parts[1])

	back, err := ParseInverseTime(parts[2])
	require.NoError(t, err)
	assert.Equal(t, tm, back)

	prefix, err := RevisionPrefix("HttpProject", "p1")
	require.NoError(t, err)
	assert.Equal(t, "HttpProject~p1~", prefix)
}

func TestHistoryKeys(t *testing.T) {
	tm := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	data, err := HistoryData(tm, "u1")
	require.NoError(t, err)
	parts := Split(data)
	require.Len(t, parts, 2)
	assert.Equal(t, "u1", parts[1])

	idx, err := HistoryIndex("space", "s1", tm, "u1")
	require.NoError(t, err)
	parts = Split(idx)
	require.Len(t, parts, 4)
	assert.Equal(t, "space", parts[0])
	assert.Equal(t, "s1", parts[1])

	prefix, err := HistoryIndexPrefix("space", "s1")
	require.NoError(t, err)
	assert.Equal(t, "space~s1~", prefix)
}

func TestSharedKey(t *testing.T) {
	key, err := Shared("u2", "f1")
	require.NoError(t, err)
	assert.Equal(t, "u2~f1", key)

	user, file, err := ParseShared(key)
	require.NoError(t, err)
	assert.Equal(t, "u2", user)
	assert.Equal(t, "f1", file)

	_, _, err = ParseShared("u2~f1~extra")
	assert.Error(t, err)
}
