package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"ragcore-service/pkg/ragcore/llm"
)

// LLMQueryExpander produces 2-3 paraphrases of a query via a single
// JSON-structured chat call, backing the retry-with-expansion path of
// spec.md §4.10 step 5.
type LLMQueryExpander struct {
	provider llm.Provider
}

func NewLLMQueryExpander(provider llm.Provider) *LLMQueryExpander {
	return &LLMQueryExpander{provider: provider}
}

var _ QueryExpander = (*LLMQueryExpander)(nil)

type expansionResponse struct {
	Paraphrases []string `json:"paraphrases"`
}

func (e *LLMQueryExpander) Expand(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(
		`Produce 2-3 alternative phrasings of this search query that use different wording `+
			`for the same underlying information need, so a lexical index with different `+
			`vocabulary has a chance to match. Query: %q. Respond with JSON: {"paraphrases":["...", "..."]}`,
		query,
	)

	raw, err := e.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You generate query paraphrases for search recall."},
		{Role: "user", Content: prompt},
	}, llm.WithJSONMode(), llm.WithTemperature(0.7))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: expand query: %w", err)
	}

	var parsed expansionResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("orchestrator: parse expansion response: %w", err)
	}
	return parsed.Paraphrases, nil
}
