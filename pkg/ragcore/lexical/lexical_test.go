package lexical

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore-service/pkg/ragcore/tenant"
)

func TestFileStore_SearchRanksByTermOverlap(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	tid := tenant.ID("tenant-a")

	err = s.Upsert(ctx, tid, []Item{
		{ChunkID: "c1", DocumentID: "d1", Text: "the cat sat on the mat"},
		{ChunkID: "c2", DocumentID: "d1", Text: "dogs and cats are common pets"},
		{ChunkID: "c3", DocumentID: "d2", Text: "quantum mechanics and relativity"},
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, tid, "cat", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestFileStore_RejectsEmptyTenant(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), tenant.ID(""), "x", 10)
	require.Error(t, err)
}

func TestFileStore_DeleteByDocumentRemovesAllChunks(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	tid := tenant.ID("tenant-b")
	require.NoError(t, s.Upsert(ctx, tid, []Item{
		{ChunkID: "c1", DocumentID: "d1", Text: "alpha beta"},
		{ChunkID: "c2", DocumentID: "d1", Text: "gamma delta"},
		{ChunkID: "c3", DocumentID: "d2", Text: "epsilon zeta"},
	}))

	require.NoError(t, s.DeleteByDocument(ctx, tid, "d1"))

	count, err := s.Count(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	tid := tenant.ID("tenant-c")
	ctx := context.Background()

	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(ctx, tid, []Item{
		{ChunkID: "c1", DocumentID: "d1", Text: "persistent index contents"},
	}))

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	count, err := s2.Count(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFileStore_SearchDoesNotBlockOnAnotherTenantsWrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	busy := tenant.ID("tenant-busy")
	quiet := tenant.ID("tenant-quiet")
	require.NoError(t, s.Upsert(ctx, quiet, []Item{{ChunkID: "c1", DocumentID: "d1", Text: "hello world"}}))

	p, err := s.partitionFor(busy)
	require.NoError(t, err)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	done := make(chan struct{})
	go func() {
		_, searchErr := s.Search(ctx, quiet, "hello", 10)
		assert.NoError(t, searchErr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("search on an idle tenant blocked on another tenant's write lock")
	}
}

func TestTokenize_DropsStopwordsAndPunctuation(t *testing.T) {
	terms := tokenize("The Cat, and the Dog!")
	assert.Equal(t, []string{"cat", "dog"}, terms)
}
