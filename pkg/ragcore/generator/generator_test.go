package generator

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/memory"
	"ragcore-service/pkg/ragcore/retriever"
)

type fakeProvider struct {
	deltas []string
}

func (f *fakeProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	return "", nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, history []llm.Message, opts ...llm.Option) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent, len(f.deltas)+1)
	for _, d := range f.deltas {
		ch <- llm.StreamEvent{Delta: d}
	}
	ch <- llm.StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestGenerate_EmitsTextThenSourcesThenEnd(t *testing.T) {
	p := &fakeProvider{deltas: []string{"The answer is ", "[1].", ""}}
	g := New(p)

	chunks := []retriever.Chunk{
		{ChunkID: "c1", DocumentID: "d1", Text: "some passage", Metadata: map[string]any{"filename": "doc.pdf"}},
	}

	events, err := g.Generate(context.Background(), TenantPersona{}, "what is it?", chunks, memory.Snapshot{}, "msg-1")
	require.NoError(t, err)

	all := drain(events)
	require.NotEmpty(t, all)
	assert.Equal(t, EventEnd, all[len(all)-1].Kind)
	assert.Equal(t, "msg-1", all[len(all)-1].MessageID)

	var sourceCount int
	for _, ev := range all {
		if ev.Kind == EventSource {
			sourceCount++
			assert.Equal(t, "c1", ev.ChunkID)
		}
	}
	assert.Equal(t, 1, sourceCount)
}

func TestCitedChunks_DropsOutOfRangeCitations(t *testing.T) {
	chunks := []retriever.Chunk{{ChunkID: "c1"}}
	out := citedChunks("see [1] and [5]", chunks)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ChunkID)
}

func TestCitedChunks_DeduplicatesRepeatedCitations(t *testing.T) {
	chunks := []retriever.Chunk{{ChunkID: "c1"}, {ChunkID: "c2"}}
	out := citedChunks("[1] then [1] again, also [2]", chunks)
	require.Len(t, out, 2)
}

func TestRenderPersonaPreamble_IncludesDeclaredFieldsAndDate(t *testing.T) {
	preamble := renderPersonaPreamble(TenantPersona{
		Industry:     "fintech",
		BrandTone:    "concise and formal",
		Languages:    []string{"en", "fr"},
		Capabilities: []string{"summarize filings"},
		Constraints:  []string{"never give tax advice"},
	})

	assert.Contains(t, preamble, "fintech")
	assert.Contains(t, preamble, "concise and formal")
	assert.Contains(t, preamble, "en, fr")
	assert.Contains(t, preamble, "summarize filings")
	assert.Contains(t, preamble, "never give tax advice")
	assert.Contains(t, preamble, strconv.Itoa(time.Now().Year()))
}

func TestRenderPersonaPreamble_EmptyPersonaFallsBackToDefault(t *testing.T) {
	preamble := renderPersonaPreamble(TenantPersona{})
	assert.Contains(t, preamble, "You are a helpful assistant")
}

func TestGenerate_NoChunksInstructsAbstention(t *testing.T) {
	messages := buildPrompt(TenantPersona{}, "q", nil, memory.Snapshot{})
	found := false
	for _, m := range messages {
		if m.Role == "system" && len(m.Content) > 0 {
			if m.Content == "No relevant context was found in the corpus. Say so plainly and do not fabricate an answer." {
				found = true
			}
		}
	}
	assert.True(t, found)
}
