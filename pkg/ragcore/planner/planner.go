// Package planner classifies an incoming query and, for knowledge
// questions, rewrites it to resolve anaphora against conversation memory.
// Grounded on the teacher's pkg/rag planner, built on the llm.Provider
// JSON-mode contract.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/memory"
)

// Kind is the PlanDecision tag of spec.md §4.7.
type Kind string

const (
	KindGreeting  Kind = "greeting"
	KindChitchat  Kind = "chitchat"
	KindKnowledge Kind = "knowledge"
	KindFallback  Kind = "fallback"
)

// Decision is the tagged union the orchestrator branches on.
// RewrittenQuery is only meaningful for Knowledge.
type Decision struct {
	Kind           Kind
	RewrittenQuery string
}

type Planner struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Planner {
	return &Planner{provider: provider}
}

type planResponse struct {
	Intent         string `json:"intent"`
	RewrittenQuery string `json:"rewritten_query"`
}

// ClassifyAndRewrite is a single JSON-structured chat call. A parse
// failure defaults to Knowledge(original query), per spec.md §4.7.
func (p *Planner) ClassifyAndRewrite(ctx context.Context, query string, mem memory.Snapshot) Decision {
	prompt := buildPlannerPrompt(query, mem)

	raw, err := p.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: prompt},
	}, llm.WithJSONMode(), llm.WithTemperature(0))
	if err != nil {
		return Decision{Kind: KindKnowledge, RewrittenQuery: query}
	}

	var parsed planResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Decision{Kind: KindKnowledge, RewrittenQuery: query}
	}

	switch Kind(strings.ToLower(parsed.Intent)) {
	case KindGreeting:
		return Decision{Kind: KindGreeting}
	case KindChitchat:
		return Decision{Kind: KindChitchat}
	case KindKnowledge:
		rewritten := parsed.RewrittenQuery
		if rewritten == "" {
			rewritten = query
		}
		return Decision{Kind: KindKnowledge, RewrittenQuery: rewritten}
	case KindFallback:
		return Decision{Kind: KindKnowledge, RewrittenQuery: query}
	default:
		return Decision{Kind: KindKnowledge, RewrittenQuery: query}
	}
}

const plannerSystemPrompt = `You classify a user's chat message and, when it requires retrieval, ` +
	`rewrite it to resolve pronouns and references against the conversation history. ` +
	`Respond with strict JSON: {"intent":"greeting|chitchat|knowledge|fallback","rewritten_query":"..."}. ` +
	`Only set rewritten_query for intent "knowledge".`

func buildPlannerPrompt(query string, mem memory.Snapshot) string {
	var b strings.Builder
	if mem.Summary != "" {
		fmt.Fprintf(&b, "Conversation summary: %s\n\n", mem.Summary)
	}
	if len(mem.Recent) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range mem.Recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current message: %s", query)
	return b.String()
}
