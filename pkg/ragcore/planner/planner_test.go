package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/memory"
)

type fakeProvider struct {
	chat func(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error)
}

func (f *fakeProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	return f.chat(ctx, history, opts...)
}

func (f *fakeProvider) StreamChat(ctx context.Context, history []llm.Message, opts ...llm.Option) (<-chan llm.StreamEvent, error) {
	return nil, nil
}

func TestClassifyAndRewrite_Greeting(t *testing.T) {
	p := New(&fakeProvider{chat: func(ctx context.Context, h []llm.Message, o ...llm.Option) (string, error) {
		return `{"intent":"greeting"}`, nil
	}})

	d := p.ClassifyAndRewrite(context.Background(), "hello!", memory.Snapshot{})
	assert.Equal(t, KindGreeting, d.Kind)
}

func TestClassifyAndRewrite_KnowledgeUsesRewrittenQuery(t *testing.T) {
	p := New(&fakeProvider{chat: func(ctx context.Context, h []llm.Message, o ...llm.Option) (string, error) {
		return `{"intent":"knowledge","rewritten_query":"what is the refund policy for product X"}`, nil
	}})

	d := p.ClassifyAndRewrite(context.Background(), "and that one?", memory.Snapshot{})
	assert.Equal(t, KindKnowledge, d.Kind)
	assert.Equal(t, "what is the refund policy for product X", d.RewrittenQuery)
}

func TestClassifyAndRewrite_ParseFailureDefaultsToKnowledgeOriginal(t *testing.T) {
	p := New(&fakeProvider{chat: func(ctx context.Context, h []llm.Message, o ...llm.Option) (string, error) {
		return "not json", nil
	}})

	d := p.ClassifyAndRewrite(context.Background(), "original query", memory.Snapshot{})
	assert.Equal(t, KindKnowledge, d.Kind)
	assert.Equal(t, "original query", d.RewrittenQuery)
}

func TestClassifyAndRewrite_ProviderErrorDefaultsToKnowledgeOriginal(t *testing.T) {
	p := New(&fakeProvider{chat: func(ctx context.Context, h []llm.Message, o ...llm.Option) (string, error) {
		return "", errors.New("upstream down")
	}})

	d := p.ClassifyAndRewrite(context.Background(), "original query", memory.Snapshot{})
	assert.Equal(t, KindKnowledge, d.Kind)
	assert.Equal(t, "original query", d.RewrittenQuery)
}

func TestClassifyAndRewrite_FallbackTreatedAsKnowledgeOriginal(t *testing.T) {
	p := New(&fakeProvider{chat: func(ctx context.Context, h []llm.Message, o ...llm.Option) (string, error) {
		return `{"intent":"fallback"}`, nil
	}})

	d := p.ClassifyAndRewrite(context.Background(), "ambiguous query", memory.Snapshot{})
	assert.Equal(t, KindKnowledge, d.Kind)
	assert.Equal(t, "ambiguous query", d.RewrittenQuery)
}
