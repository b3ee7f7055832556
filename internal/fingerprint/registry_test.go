package fingerprint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docrag/internal/fingerprint"
	"github.com/fyrsmithlabs/docrag/internal/rag"
)

func TestHash(t *testing.T) {
	assert.Equal(t, "33cf6123dd5c46d7b6fdc9cd72abbf66", fingerprint.Hash("alpha beta"))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", fingerprint.Hash(""))
	assert.NotEqual(t, fingerprint.Hash("alpha beta"), fingerprint.Hash("alpha  beta"))
	assert.Len(t, fingerprint.Hash("anything"), 32)
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	reg, err := fingerprint.Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.NotNil(t, reg)
	assert.Empty(t, reg)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), fingerprint.FileName)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	reg := fingerprint.Registry{
		"a.txt": {Hash: fingerprint.Hash("alpha beta"), SegmentCount: 1, LastProcessed: now, Generation: 1},
		"b.txt": {Hash: fingerprint.Hash("gamma delta"), SegmentCount: 3, LastProcessed: now, Generation: 2},
	}
	require.NoError(t, fingerprint.Save(path, reg))

	loaded, err := fingerprint.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for id, want := range reg {
		got, ok := loaded.Lookup(id)
		require.True(t, ok, id)
		assert.Equal(t, want.Hash, got.Hash)
		assert.Equal(t, want.SegmentCount, got.SegmentCount)
		assert.Equal(t, want.Generation, got.Generation)
		assert.True(t, want.LastProcessed.Equal(got.LastProcessed))
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, loaded.Identities())
	assert.Equal(t, 4, loaded.TotalSegments())
}

func TestSave_OverwritesWholeMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), fingerprint.FileName)
	require.NoError(t, fingerprint.Save(path, fingerprint.Registry{"a": {Hash: "1"}, "b": {Hash: "2"}}))
	require.NoError(t, fingerprint.Save(path, fingerprint.Registry{"c": {Hash: "3"}}))

	loaded, err := fingerprint.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, loaded.Identities())
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), fingerprint.FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := fingerprint.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrPersist)
}

func TestSave_UnwritableLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", fingerprint.FileName)
	err := fingerprint.Save(path, fingerprint.Registry{"a": {Hash: "1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrPersist)
}

func TestClone_IsIndependent(t *testing.T) {
	orig := fingerprint.Registry{"a": {Hash: "1"}}
	cp := orig.Clone()
	cp["a"] = fingerprint.Record{Hash: "2"}
	cp["b"] = fingerprint.Record{Hash: "3"}

	assert.Equal(t, "1", orig["a"].Hash)
	assert.Len(t, orig, 1)
}
