package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_LifecycleTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	j := &Job{JobID: "j1", TenantID: "t1", Kind: KindDocumentUpload, Status: StatusQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, j))

	require.NoError(t, s.UpdateProgress(ctx, "j1", 0.5))
	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, 0.5, got.Progress)

	require.NoError(t, s.Complete(ctx, "j1", Result{ChunksCreated: 3, EmbeddingsGenerated: 3}))
	got, err = s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.ChunksCreated)
}

func TestMemoryStore_Fail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &Job{JobID: "j1", Status: StatusQueued}))
	require.NoError(t, s.Fail(ctx, "j1", "boom"))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestMemoryQueue_HandlerErrorRequeues(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{JobID: "j1"}))

	attempts := 0
	err := q.Consume(ctx, "worker-1", func(ctx context.Context, j Job) error {
		attempts++
		if attempts == 1 {
			return assertErr
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts) // Consume returns after the first failure in this fake
	assert.Len(t, q.items, 1)    // the failed job is back on the queue
}

var assertErr = fakeErr("transient failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
