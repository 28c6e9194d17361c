package memory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/tenant"
)

func newTestMemory(t *testing.T, window int, provider llm.Provider) *Memory {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, provider, WithWindow(window))
}

func TestMemory_AppendWithinWindowKeepsAllMessages(t *testing.T) {
	m := newTestMemory(t, 10, nil)
	ctx := context.Background()
	tid := tenant.ID("t1")

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, tid, "s1", Message{Role: "user", Content: "hi"}))
	}

	snap, err := m.Load(ctx, tid, "s1")
	require.NoError(t, err)
	assert.Len(t, snap.Recent, 5)
	assert.Empty(t, snap.Summary)
}

func TestMemory_OverflowTriggersCompression(t *testing.T) {
	provider := &fakeProvider{chat: func(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
		return "condensed summary", nil
	}}
	m := newTestMemory(t, 3, provider)
	ctx := context.Background()
	tid := tenant.ID("t1")

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, tid, "s1", Message{Role: "user", Content: "msg"}))
	}

	snap, err := m.Load(ctx, tid, "s1")
	require.NoError(t, err)
	assert.Len(t, snap.Recent, 3)
	assert.Equal(t, "condensed summary", snap.Summary)
}

func TestMemory_CompressionFailureKeepsAllMessages(t *testing.T) {
	provider := &fakeProvider{chat: func(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
		return "", assertErr
	}}
	m := newTestMemory(t, 3, provider)
	ctx := context.Background()
	tid := tenant.ID("t1")

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, tid, "s1", Message{Role: "user", Content: "msg"}))
	}

	snap, err := m.Load(ctx, tid, "s1")
	require.NoError(t, err)
	assert.Len(t, snap.Recent, 5) // never lost, window just grows
	assert.Empty(t, snap.Summary)
}

func TestMemory_RejectsEmptyTenant(t *testing.T) {
	m := newTestMemory(t, 10, nil)
	err := m.Append(context.Background(), tenant.ID(""), "s1", Message{Role: "user", Content: "hi"})
	require.Error(t, err)
}

var assertErr = &testErr{"compression unavailable"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

type fakeProvider struct {
	chat func(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error)
}

func (f *fakeProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	return f.chat(ctx, history, opts...)
}

func (f *fakeProvider) StreamChat(ctx context.Context, history []llm.Message, opts ...llm.Option) (<-chan llm.StreamEvent, error) {
	return nil, nil
}
