package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ragcore-service/pkg/ragcore/llm"
)

// LLMReranker asks the chat model to score each candidate's relevance on
// [0,10] via one batched JSON-structured call, per spec.md §4.5 step 4.
type LLMReranker struct {
	provider llm.Provider
}

func NewLLMReranker(provider llm.Provider) *LLMReranker {
	return &LLMReranker{provider: provider}
}

var _ Reranker = (*LLMReranker)(nil)

type rerankResponse struct {
	Scores []struct {
		ChunkID   string  `json:"chunk_id"`
		Relevance float64 `json:"relevance"`
	} `json:"scores"`
}

func (l *LLMReranker) Rerank(ctx context.Context, query string, candidates []Chunk) ([]RerankScore, error) {
	prompt := buildRerankPrompt(query, candidates)

	raw, err := l.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You score passages for relevance and respond with strict JSON only."},
		{Role: "user", Content: prompt},
	}, llm.WithJSONMode(), llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("retriever: rerank call: %w", err)
	}

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("retriever: parse rerank response: %w", err)
	}

	scores := make([]RerankScore, len(parsed.Scores))
	for i, s := range parsed.Scores {
		scores[i] = RerankScore{ChunkID: s.ChunkID, Relevance: s.Relevance}
	}
	return scores, nil
}

func buildRerankPrompt(query string, candidates []Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	b.WriteString("Score each passage's relevance to the query on a scale of 0 to 10.\n")
	b.WriteString(`Respond with JSON: {"scores":[{"chunk_id":"...","relevance":0-10}, ...]}` + "\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] chunk_id=%s\n%s\n\n", i+1, c.ChunkID, c.Text)
	}
	return b.String()
}
