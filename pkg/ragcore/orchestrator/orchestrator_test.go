package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore-service/pkg/ragcore/generator"
	"ragcore-service/pkg/ragcore/lexical"
	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/memory"
	"ragcore-service/pkg/ragcore/planner"
	"ragcore-service/pkg/ragcore/retriever"
	"ragcore-service/pkg/ragcore/tenant"
	"ragcore-service/pkg/ragcore/vectorindex"
)

type scriptedProvider struct {
	chatResponses   []string
	chatIdx         int
	streamDeltas    []string
}

func (p *scriptedProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	resp := p.chatResponses[p.chatIdx]
	if p.chatIdx < len(p.chatResponses)-1 {
		p.chatIdx++
	}
	return resp, nil
}

func (p *scriptedProvider) StreamChat(ctx context.Context, history []llm.Message, opts ...llm.Option) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent, len(p.streamDeltas)+1)
	for _, d := range p.streamDeltas {
		ch <- llm.StreamEvent{Delta: d}
	}
	ch <- llm.StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

func newTestOrchestrator(t *testing.T, planProvider, rerankAndGenProvider llm.Provider, vectorResults []vectorindex.Result) *Orchestrator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mem := memory.New(rdb, rerankAndGenProvider)
	p := planner.New(planProvider)

	vs := vectorindex.NewMemoryStore()
	ctx := context.Background()
	if len(vectorResults) > 0 {
		items := make([]vectorindex.Item, len(vectorResults))
		for i, r := range vectorResults {
			items[i] = vectorindex.Item{ChunkID: r.ChunkID, DocumentID: r.DocumentID, Vector: []float32{1, 0}, Metadata: map[string]any{"text": "some text"}}
		}
		require.NoError(t, vs.Upsert(ctx, tenant.ID("t1"), items))
	}
	ls, err := lexical.NewFileStore(t.TempDir())
	require.NoError(t, err)

	r := retriever.New(vs, ls, func(ctx context.Context, q string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
	g := generator.New(rerankAndGenProvider)

	return New(p, r, g, mem, nil, WithIDGenerator(func() string { return "msg-fixed" }))
}

func drainTurn(turn *Turn) []generator.Event {
	var out []generator.Event
	for ev := range turn.Events {
		out = append(out, ev)
	}
	return out
}

func TestOrchestrator_GreetingSkipsRetrieval(t *testing.T) {
	planProvider := &scriptedProvider{chatResponses: []string{`{"intent":"greeting"}`}}
	genProvider := &scriptedProvider{chatResponses: []string{"hi there"}, streamDeltas: []string{"Hello!"}}

	o := newTestOrchestrator(t, planProvider, genProvider, nil)
	turn, err := o.Handle(context.Background(), tenant.ID("t1"), "s1", "hello", generator.TenantPersona{})
	require.NoError(t, err)

	events := drainTurn(turn)
	require.NotEmpty(t, events)
	assert.Equal(t, generator.EventEnd, events[len(events)-1].Kind)
}

func TestOrchestrator_RejectsMissingTenant(t *testing.T) {
	planProvider := &scriptedProvider{chatResponses: []string{`{"intent":"greeting"}`}}
	genProvider := &scriptedProvider{streamDeltas: []string{"hi"}}
	o := newTestOrchestrator(t, planProvider, genProvider, nil)

	_, err := o.Handle(context.Background(), tenant.ID(""), "s1", "hello", generator.TenantPersona{})
	require.Error(t, err)
}

func TestOrchestrator_KnowledgeWithHitsGenerates(t *testing.T) {
	planProvider := &scriptedProvider{chatResponses: []string{`{"intent":"knowledge","rewritten_query":"policy question"}`}}
	genProvider := &scriptedProvider{streamDeltas: []string{"The policy is [1]."}}

	o := newTestOrchestrator(t, planProvider, genProvider, []vectorindex.Result{{ChunkID: "c1", DocumentID: "d1"}})
	turn, err := o.Handle(context.Background(), tenant.ID("t1"), "s2", "what is the policy?", generator.TenantPersona{})
	require.NoError(t, err)

	events := drainTurn(turn)
	var sawSource bool
	for _, ev := range events {
		if ev.Kind == generator.EventSource {
			sawSource = true
		}
	}
	assert.True(t, sawSource)
}

func TestOrchestrator_SerializesTurnsOnSameSession(t *testing.T) {
	planProvider := &scriptedProvider{chatResponses: []string{`{"intent":"greeting"}`}}
	genProvider := &scriptedProvider{streamDeltas: []string{"hi"}}
	o := newTestOrchestrator(t, planProvider, genProvider, nil)

	turn1, err := o.Handle(context.Background(), tenant.ID("t1"), "shared-session", "first", generator.TenantPersona{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		turn2, err := o.Handle(context.Background(), tenant.ID("t1"), "shared-session", "second", generator.TenantPersona{})
		require.NoError(t, err)
		drainTurn(turn2)
		close(done)
	}()

	// turn1's events are not drained yet, so it still holds the session
	// and the second turn has to wait for it.
	select {
	case <-done:
		t.Fatal("second turn ran while the first still held the session")
	case <-time.After(100 * time.Millisecond):
	}

	drainTurn(turn1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second turn never completed")
	}
}
