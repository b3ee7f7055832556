package storage_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docrag/internal/fingerprint"
	"github.com/fyrsmithlabs/docrag/internal/fsutil"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/segment"
	"github.com/fyrsmithlabs/docrag/internal/storage"
	"github.com/fyrsmithlabs/docrag/internal/vectorindex"
)

type axisEmbedder struct{}

// EmbedDocuments maps each text to a one-hot vector keyed by its first letter.
func (axisEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		v[int(t[0]-'a')%26] = 1
		out[i] = v
	}
	return out, nil
}

func (e axisEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, _ := e.EmbedDocuments(ctx, []string{text})
	return vs[0], nil
}

func buildIndex(t *testing.T, texts map[string]string) (*vectorindex.Index, fingerprint.Registry) {
	t.Helper()
	var items []vectorindex.Item
	reg := fingerprint.Registry{}
	for id, text := range texts {
		items = append(items, vectorindex.Item{
			Segment:    segment.Segment{Identity: id, Text: text},
			Generation: 1,
		})
		reg[id] = fingerprint.Record{
			Hash:          fingerprint.Hash(text),
			SegmentCount:  1,
			LastProcessed: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Generation:    1,
		}
	}
	ix, err := vectorindex.Create(context.Background(), items, axisEmbedder{})
	require.NoError(t, err)
	return ix, reg
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := storage.New("  ")
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestLoad_NeverCommitted(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	st, err := storage.New(root)
	require.NoError(t, err)

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Generation)
	assert.Zero(t, snap.Index.Count())
	assert.Empty(t, snap.Registry)

	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err), "load must not create the location")
}

func TestCommitLoad_RoundTrip(t *testing.T) {
	for _, compress := range []bool{true, false} {
		t.Run(map[bool]string{true: "zstd", false: "plain"}[compress], func(t *testing.T) {
			ctx := context.Background()
			st, err := storage.New(t.TempDir(), storage.WithCompression(compress))
			require.NoError(t, err)

			ix, reg := buildIndex(t, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})
			gen, err := st.Commit(ctx, 0, ix, reg)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), gen)

			snap, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), snap.Generation)
			assert.Equal(t, ix.Count(), snap.Index.Count())
			assert.Equal(t, ix.Documents(), snap.Index.Documents())
			assert.Equal(t, reg, snap.Registry)

			q, _ := axisEmbedder{}.EmbedQuery(ctx, "b")
			want, err := ix.Retrieve(ctx, q, 2)
			require.NoError(t, err)
			got, err := snap.Index.Retrieve(ctx, q, 2)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCommit_AdvancesCurrentAndPrunes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root, storage.WithKeepGenerations(2))
	require.NoError(t, err)

	var base uint64
	for i := 0; i < 4; i++ {
		ix, reg := buildIndex(t, map[string]string{"a": strings.Repeat("a", i+1)})
		base, err = st.Commit(ctx, base, ix, reg)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(4), base)

	cur, err := st.Current()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cur)

	gens, err := st.Generations()
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, gens)

	data, err := os.ReadFile(filepath.Join(root, storage.CurrentFileName))
	require.NoError(t, err)
	assert.Equal(t, "gen-00000004\n", string(data))
}

func TestCommit_StaleBaseIsRejected(t *testing.T) {
	ctx := context.Background()
	st, err := storage.New(t.TempDir())
	require.NoError(t, err)

	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	_, err = st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)

	_, err = st.Commit(ctx, 0, ix, reg)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.ErrorIs(t, err, rag.ErrPersist)

	cur, err := st.Current()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur)
}

func TestCommit_SkipsOrphanedGenerations(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root, storage.WithKeepGenerations(5))
	require.NoError(t, err)

	// Left behind by a crash before CURRENT was updated.
	require.NoError(t, os.Mkdir(filepath.Join(root, "gen-00000001"), 0o700))

	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	gen, err := st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Index.Count())
}

func TestCommit_FailureKeepsPreviousGeneration(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root)
	require.NoError(t, err)

	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	_, err = st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(root, 0o500))
	t.Cleanup(func() { _ = os.Chmod(root, 0o700) })

	ix2, reg2 := buildIndex(t, map[string]string{"b": "bravo"})
	_, err = st.Commit(ctx, 1, ix2, reg2)
	assert.ErrorIs(t, err, rag.ErrPersist)

	require.NoError(t, os.Chmod(root, 0o700))
	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Contains(t, snap.Registry, "a")
	assert.NotContains(t, snap.Registry, "b")
}

// failPointerSync makes the CURRENT write for each gen in gens land on disk
// but report a failed directory fsync.
func failPointerSync(t *testing.T, gens ...uint64) {
	t.Helper()
	prev := *storage.WritePointer
	*storage.WritePointer = func(path string, gen uint64) error {
		err := prev(path, gen)
		for _, g := range gens {
			if g == gen && err == nil {
				return fmt.Errorf("%w: syncing directory: input/output error", fsutil.ErrNotDurable)
			}
		}
		return err
	}
	t.Cleanup(func() { *storage.WritePointer = prev })
}

func TestCommit_PointerSyncFailureRestoresPrevious(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root)
	require.NoError(t, err)

	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	_, err = st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)

	failPointerSync(t, 2)
	ix2, reg2 := buildIndex(t, map[string]string{"b": "bravo"})
	_, err = st.Commit(ctx, 1, ix2, reg2)
	require.ErrorIs(t, err, rag.ErrPersist)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Contains(t, snap.Registry, "a")
	assert.NotContains(t, snap.Registry, "b")

	gens, err := st.Generations()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, gens)

	gen, err := st.Commit(ctx, 1, ix2, reg2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
}

func TestCommit_PointerSyncFailureOnFirstCommit(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root)
	require.NoError(t, err)

	failPointerSync(t, 1)
	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	_, err = st.Commit(ctx, 0, ix, reg)
	require.ErrorIs(t, err, rag.ErrPersist)

	_, err = os.Stat(filepath.Join(root, storage.CurrentFileName))
	assert.True(t, os.IsNotExist(err))
	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Generation)
}

func TestCommit_PointerRestoreFailureKeepsGeneration(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root)
	require.NoError(t, err)

	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	_, err = st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)

	prev := *storage.WritePointer
	*storage.WritePointer = func(path string, gen uint64) error {
		if gen == 1 {
			return fmt.Errorf("creating temp file: no space left on device")
		}
		if err := prev(path, gen); err != nil {
			return err
		}
		return fmt.Errorf("%w: syncing directory: input/output error", fsutil.ErrNotDurable)
	}
	t.Cleanup(func() { *storage.WritePointer = prev })

	ix2, reg2 := buildIndex(t, map[string]string{"b": "bravo"})
	_, err = st.Commit(ctx, 1, ix2, reg2)
	require.ErrorIs(t, err, rag.ErrPersist)

	// CURRENT still names generation 2, so its directory must be readable.
	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Generation)
	assert.Contains(t, snap.Registry, "b")
}

func TestLoad_CorruptIndex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root)
	require.NoError(t, err)

	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	_, err = st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)

	path := filepath.Join(root, "gen-00000001", storage.IndexFileNameZstd)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err = st.Load(ctx)
	assert.ErrorIs(t, err, rag.ErrPersist)
}

func TestLoad_DanglingCurrent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, storage.CurrentFileName), []byte("gen-00000009\n"), 0o600))
	st, err := storage.New(root)
	require.NoError(t, err)

	_, err = st.Load(context.Background())
	assert.ErrorIs(t, err, rag.ErrPersist)

	require.NoError(t, os.WriteFile(filepath.Join(root, storage.CurrentFileName), []byte("nonsense"), 0o600))
	_, err = st.Current()
	assert.ErrorIs(t, err, rag.ErrPersist)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.New(root)
	require.NoError(t, err)

	ix, reg := buildIndex(t, map[string]string{"a": "alpha"})
	_, err = st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)

	require.NoError(t, st.Reset(ctx))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Generation)
	assert.Zero(t, snap.Index.Count())

	gens, err := st.Generations()
	require.NoError(t, err)
	assert.Empty(t, gens)

	// Committing after a reset starts again from an empty base.
	_, err = st.Commit(ctx, 0, ix, reg)
	require.NoError(t, err)
}

func TestReset_NeverCommitted(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	st, err := storage.New(root)
	require.NoError(t, err)

	require.NoError(t, st.Reset(context.Background()))
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}
