package semantic

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEmbedder maps text deterministically onto a small fixed-dimension
// vector so tests don't depend on a real embedding model.
type fakeEmbedder struct {
	dim int
	m   map[string][]float32
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, m: map[string][]float32{}}
}

func (f *fakeEmbedder) Embed(text string) ([]float32, error) {
	if v, ok := f.m[text]; ok {
		return v, nil
	}
	v := make([]float32, f.dim)
	for i, c := range text {
		v[i%f.dim] += float32(c)
	}
	f.m[text] = v
	return v, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	embedder := newFakeEmbedder(4)
	s, err := Open(filepath.Join(dir, "semantic.db"), filepath.Join(dir, "semantic.index"), embedder, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestAdd_AssignsMonotoneVectorIDs(t *testing.T) {
	s := newTestStore(t)

	id0, err := s.Add("first memory", map[string]any{"kind": "note"})
	require.NoError(t, err)
	require.Equal(t, int64(0), id0)

	id1, err := s.Add("second memory", map[string]any{"kind": "note"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id1)
}

func TestSearchText_EmptyStoreReturnsEmptySlice(t *testing.T) {
	s := newTestStore(t)

	results, err := s.SearchText("anything", 5)
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Len(t, results, 0)
}

func TestSearchText_FindsExactTextAsTopHit(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("the quick brown fox", map[string]any{"source": "a"})
	require.NoError(t, err)
	_, err = s.Add("something entirely different", map[string]any{"source": "b"})
	require.NoError(t, err)

	results, err := s.SearchText("the quick brown fox", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "the quick brown fox", results[0].Text)
	require.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
}

func TestSearchText_OrderedBySimilarityDescThenVectorIDAsc(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("alpha", nil)
	require.NoError(t, err)
	_, err = s.Add("beta", nil)
	require.NoError(t, err)
	_, err = s.Add("alpha", nil) // duplicate embedding, higher vector_id
	require.NoError(t, err)

	results, err := s.SearchText("alpha", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i := 1; i < len(results); i++ {
		if results[i-1].SimilarityScore == results[i].SimilarityScore {
			require.Less(t, results[i-1].VectorID, results[i].VectorID)
		} else {
			require.Greater(t, results[i-1].SimilarityScore, results[i].SimilarityScore)
		}
	}
}

func TestOpen_RebuildsIndexFromMetadataWhenIndexFileMissing(t *testing.T) {
	dir := t.TempDir()
	embedder := newFakeEmbedder(4)
	dbPath := filepath.Join(dir, "semantic.db")
	indexPath := filepath.Join(dir, "semantic.index")

	s1, err := Open(dbPath, indexPath, embedder, zap.NewNop())
	require.NoError(t, err)
	_, err = s1.Add("persisted memory", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopen with a fresh embedder instance (simulating a process
	// restart) but against the same db/index paths; the rebuild path
	// reads stored vector bytes, not the embedder, so results must still
	// match without re-embedding.
	s2, err := Open(dbPath, indexPath, newFakeEmbedder(4), zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	require.EqualValues(t, 1, s2.index.Len())
}
