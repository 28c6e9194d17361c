package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore-service/pkg/ragcore/rerr"
)

type fakeProvider struct {
	dim       int
	calls     [][]string
	failTimes int
	permanent bool
}

func (f *fakeProvider) Dimension() int { return f.dim }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.failTimes > 0 {
		f.failTimes--
		if f.permanent {
			return nil, rerr.New(rerr.KindPermanentUpstream, "fake", errors.New("bad request"))
		}
		return nil, rerr.New(rerr.KindTransientUpstream, "fake", errors.New("rate limited"))
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func TestEmbed_PreservesOrderAndLength(t *testing.T) {
	p := &fakeProvider{dim: 2}
	e := New(p, WithMaxBatch(2))

	vectors, warnings, err := e.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Len(t, vectors, 5)
	assert.Len(t, p.calls, 3) // batches of 2,2,1
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, p.calls)
}

func TestEmbed_RetriesTransientFailure(t *testing.T) {
	p := &fakeProvider{dim: 2, failTimes: 2}
	e := New(p, WithRetryPolicy(RetryPolicy{Initial: time.Millisecond, Factor: 2, Max: 10 * time.Millisecond, MaxAttempts: 5}))

	vectors, _, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
}

func TestEmbed_PermanentFailureDoesNotRetry(t *testing.T) {
	p := &fakeProvider{dim: 2, failTimes: 10, permanent: true}
	e := New(p, WithRetryPolicy(RetryPolicy{Initial: time.Millisecond, Factor: 2, Max: 10 * time.Millisecond, MaxAttempts: 5}))

	_, _, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.KindEmbedFailure))
	assert.Len(t, p.calls, 1) // no retry on permanent failure
}

func TestEmbed_TruncatesOversizeItemsWithWarning(t *testing.T) {
	p := &fakeProvider{dim: 2}
	e := New(p, WithMaxTokens(3))

	longText := strings.Repeat("word ", 10)
	_, warnings, err := e.Embed(context.Background(), []string{longText})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, 0, warnings[0].Index)
}
