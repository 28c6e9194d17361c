package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore-service/pkg/ragcore/lexical"
	"ragcore-service/pkg/ragcore/tenant"
	"ragcore-service/pkg/ragcore/vectorindex"
)

func TestFuseRRF_TiesBrokenByChunkIDAscending(t *testing.T) {
	// V=[a,b,c], L=[c,b,a] -> a = c = 1/61 + 1/63 > b = 2/62, so RRF
	// produces [(a=c) tie broken ascending, b]
	dense := []vectorindex.Result{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}}
	sparse := []lexical.Result{{ChunkID: "c"}, {ChunkID: "b"}, {ChunkID: "a"}}

	fused := fuseRRF(dense, sparse)
	require.Len(t, fused, 3)
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.Equal(t, "c", fused[1].ChunkID)
	assert.Equal(t, "b", fused[2].ChunkID)
}

func TestFuseRRF_UnionsDenseAndSparseOnlyHits(t *testing.T) {
	dense := []vectorindex.Result{{ChunkID: "a"}, {ChunkID: "b"}}
	sparse := []lexical.Result{{ChunkID: "c"}}

	fused := fuseRRF(dense, sparse)
	assert.Len(t, fused, 3)
}

type fakeVectorStore struct {
	results []vectorindex.Result
}

func (f *fakeVectorStore) Upsert(ctx context.Context, t tenant.ID, items []vectorindex.Item) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, t tenant.ID, qv []float32, k int) ([]vectorindex.Result, error) {
	return f.results, nil
}
func (f *fakeVectorStore) DeleteByDocument(ctx context.Context, t tenant.ID, documentID string) error {
	return nil
}
func (f *fakeVectorStore) Count(ctx context.Context, t tenant.ID) (int, error) { return 0, nil }

type fakeLexicalStore struct {
	results []lexical.Result
}

func (f *fakeLexicalStore) Upsert(ctx context.Context, t tenant.ID, items []lexical.Item) error {
	return nil
}
func (f *fakeLexicalStore) Search(ctx context.Context, t tenant.ID, query string, k int) ([]lexical.Result, error) {
	return f.results, nil
}
func (f *fakeLexicalStore) DeleteByDocument(ctx context.Context, t tenant.ID, documentID string) error {
	return nil
}
func (f *fakeLexicalStore) Count(ctx context.Context, t tenant.ID) (int, error) { return 0, nil }

func TestRetrieve_EmptyFusedListReturnsEmptyNotError(t *testing.T) {
	vs := &fakeVectorStore{}
	ls := &fakeLexicalStore{}
	r := New(vs, ls, func(ctx context.Context, q string) ([]float32, error) {
		return []float32{1, 0}, nil
	})

	chunks, err := r.Retrieve(context.Background(), tenant.ID("t1"), "anything")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieve_AppliesFinalTopK(t *testing.T) {
	vs := &fakeVectorStore{results: []vectorindex.Result{
		{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}, {ChunkID: "d"}, {ChunkID: "e"}, {ChunkID: "f"},
	}}
	ls := &fakeLexicalStore{}
	r := New(vs, ls, func(ctx context.Context, q string) ([]float32, error) {
		return []float32{1, 0}, nil
	}, WithTopKs(20, 10, 3))

	chunks, err := r.Retrieve(context.Background(), tenant.ID("t1"), "anything")
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestRetrieveExpanded_MergesAcrossQueriesKeepingMaxScore(t *testing.T) {
	vs := &fakeVectorStore{results: []vectorindex.Result{{ChunkID: "a"}}}
	ls := &fakeLexicalStore{}
	r := New(vs, ls, func(ctx context.Context, q string) ([]float32, error) {
		return []float32{1, 0}, nil
	})

	chunks, err := r.RetrieveExpanded(context.Background(), tenant.ID("t1"), []string{"q1", "q2"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].ChunkID)
}

func TestApplyRerank_UnseenCandidateSortsLast(t *testing.T) {
	fused := []Chunk{{ChunkID: "a", Score: 0.5}, {ChunkID: "b", Score: 0.4}}
	scores := []RerankScore{{ChunkID: "b", Relevance: 9}}

	out := applyRerank(fused, scores)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
}
