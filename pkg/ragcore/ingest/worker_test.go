package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore-service/pkg/ragcore/chunk"
	"ragcore-service/pkg/ragcore/embedding"
	"ragcore-service/pkg/ragcore/job"
	"ragcore-service/pkg/ragcore/lexical"
	"ragcore-service/pkg/ragcore/tenant"
	"ragcore-service/pkg/ragcore/vectorindex"
)

type fakeEmbedProvider struct{ dim int }

func (f *fakeEmbedProvider) Dimension() int { return f.dim }
func (f *fakeEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func newTestWorker(t *testing.T) (*Worker, job.Store, job.Queue, vectorindex.Store, lexical.Store) {
	t.Helper()
	jobStore := job.NewMemoryStore()
	queue := job.NewMemoryQueue()
	vectorStore := vectorindex.NewMemoryStore()
	lexStore, err := lexical.NewFileStore(t.TempDir())
	require.NoError(t, err)

	embedder := embedding.New(&fakeEmbedProvider{dim: 2})
	splitter := chunk.New(50, 10)
	w := New(queue, jobStore, splitter, embedder, vectorStore, lexStore)
	return w, jobStore, queue, vectorStore, lexStore
}

func TestWorker_CompletesAndUpsertsBothIndices(t *testing.T) {
	w, jobStore, queue, vectorStore, lexStore := newTestWorker(t)
	ctx := context.Background()

	j := job.Job{JobID: "j1", TenantID: "t1", DocumentID: "d1", Kind: job.KindDocumentUpload, RawText: "a sentence. another sentence here for content."}
	require.NoError(t, jobStore.Create(ctx, &j))
	require.NoError(t, queue.Enqueue(ctx, j))

	require.NoError(t, queue.Consume(ctx, "worker-1", w.handle))

	got, err := jobStore.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Greater(t, got.Result.ChunksCreated, 0)

	count, err := vectorStore.Count(ctx, tenant.ID("t1"))
	require.NoError(t, err)
	assert.Equal(t, got.Result.ChunksCreated, count)

	lexCount, err := lexStore.Count(ctx, tenant.ID("t1"))
	require.NoError(t, err)
	assert.Equal(t, got.Result.ChunksCreated, lexCount)
}

func TestWorker_EmptyTextCompletesWithZeroChunks(t *testing.T) {
	w, jobStore, queue, _, _ := newTestWorker(t)
	ctx := context.Background()

	j := job.Job{JobID: "j2", TenantID: "t1", DocumentID: "d2", Kind: job.KindDocumentUpload, RawText: "   "}
	require.NoError(t, jobStore.Create(ctx, &j))
	require.NoError(t, queue.Enqueue(ctx, j))
	require.NoError(t, queue.Consume(ctx, "worker-1", w.handle))

	got, err := jobStore.Get(ctx, "j2")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.Result.ChunksCreated)
}

func TestWorker_ReplayIsIdempotent(t *testing.T) {
	w, jobStore, _, vectorStore, _ := newTestWorker(t)
	ctx := context.Background()

	j := job.Job{JobID: "j3", TenantID: "t1", DocumentID: "d3", Kind: job.KindDocumentUpload, RawText: "repeated document content for idempotence checks."}
	require.NoError(t, jobStore.Create(ctx, &j))

	require.NoError(t, w.handle(ctx, j))
	firstCount, err := vectorStore.Count(ctx, tenant.ID("t1"))
	require.NoError(t, err)

	require.NoError(t, w.handle(ctx, j))
	secondCount, err := vectorStore.Count(ctx, tenant.ID("t1"))
	require.NoError(t, err)

	assert.Equal(t, firstCount, secondCount)
}

// failingLexicalStore upserts never succeed, so the worker's rollback path
// can be exercised without a real disk-backed store.
type failingLexicalStore struct{ lexical.Store }

func (f *failingLexicalStore) Upsert(ctx context.Context, t tenant.ID, items []lexical.Item) error {
	return assert.AnError
}

func TestWorker_LexicalUpsertFailureRollsBackVectorIndex(t *testing.T) {
	jobStore := job.NewMemoryStore()
	queue := job.NewMemoryQueue()
	vectorStore := vectorindex.NewMemoryStore()
	lexStore, err := lexical.NewFileStore(t.TempDir())
	require.NoError(t, err)
	embedder := embedding.New(&fakeEmbedProvider{dim: 2})
	splitter := chunk.New(50, 10)
	w := New(queue, jobStore, splitter, embedder, vectorStore, &failingLexicalStore{Store: lexStore})
	ctx := context.Background()

	j := job.Job{JobID: "j5", TenantID: "t1", DocumentID: "d5", Kind: job.KindDocumentUpload, RawText: "a sentence. another sentence here for content."}
	require.NoError(t, jobStore.Create(ctx, &j))

	err = w.handle(ctx, j)
	require.Error(t, err)

	got, err := jobStore.Get(ctx, "j5")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)

	count, err := vectorStore.Count(ctx, tenant.ID("t1"))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "vector rows must be rolled back when the lexical upsert fails")
}

func TestWorker_RejectsMissingTenant(t *testing.T) {
	w, jobStore, _, _, _ := newTestWorker(t)
	ctx := context.Background()

	j := job.Job{JobID: "j4", TenantID: "", DocumentID: "d4", RawText: "text"}
	require.NoError(t, jobStore.Create(ctx, &j))

	err := w.handle(ctx, j)
	require.Error(t, err)
}
