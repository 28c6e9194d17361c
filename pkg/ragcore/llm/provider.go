// Package llm is the chat-completion boundary shared by the planner,
// retriever (LLM re-rank) and generator. Grounded on the teacher's
// pkg/llm.LLMProvider, generalized with a streaming path the teacher's
// synchronous Chat doesn't have.
package llm

import "context"

// Message is a provider-agnostic chat turn.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Options mirrors the teacher's pkg/llm.Options, with JSON-mode added for
// the planner/re-rank structured-output calls.
type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string
	JSONMode    bool
}

type Option func(*Options)

func WithTemperature(t float64) Option { return func(o *Options) { o.Temperature = t } }
func WithModel(m string) Option        { return func(o *Options) { o.Model = m } }
func WithMaxTokens(n int) Option       { return func(o *Options) { o.MaxTokens = n } }

// WithJSONMode asks the provider to constrain output to a single JSON
// value, used by the planner and re-ranker's structured calls.
func WithJSONMode() Option { return func(o *Options) { o.JSONMode = true } }

// StreamEvent is one increment of a streaming completion.
type StreamEvent struct {
	Delta string
	Done  bool
	Err   error
}

// Provider is the chat-completion contract. Chat is used for the
// planner's and re-ranker's single-shot structured calls; StreamChat
// backs the generator's token-by-token synthesis.
type Provider interface {
	Chat(ctx context.Context, history []Message, opts ...Option) (string, error)
	StreamChat(ctx context.Context, history []Message, opts ...Option) (<-chan StreamEvent, error)
}
