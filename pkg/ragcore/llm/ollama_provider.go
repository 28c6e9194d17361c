package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ragcore-service/pkg/ragcore/rerr"
)

// OllamaProvider is grounded directly on the teacher's
// pkg/llm/ollama.OllamaProvider, generalized to also drive Ollama's
// streaming NDJSON response for StreamChat.
type OllamaProvider struct {
	BaseURL   string
	ModelName string
	Client    *http.Client
}

var _ Provider = (*OllamaProvider)(nil)

func NewOllamaProvider(baseURL, modelName string) *OllamaProvider {
	return &OllamaProvider{
		BaseURL:   baseURL,
		ModelName: modelName,
		Client:    &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (o *OllamaProvider) buildRequest(history []Message, opts []Option, stream bool) (ollamaChatRequest, string) {
	options := &Options{Temperature: 0.7}
	for _, opt := range opts {
		opt(options)
	}

	messages := make([]ollamaMessage, len(history))
	for i, m := range history {
		role := m.Role
		if role == "model" {
			role = "assistant"
		}
		messages[i] = ollamaMessage{Role: role, Content: m.Content}
	}

	model := o.ModelName
	if options.Model != "" {
		model = options.Model
	}

	req := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options:  &ollamaOptions{Temperature: options.Temperature},
	}
	if options.MaxTokens > 0 {
		req.Options.NumPredict = options.MaxTokens
	}
	if options.JSONMode {
		req.Format = "json"
	}
	return req, model
}

func (o *OllamaProvider) Chat(ctx context.Context, history []Message, opts ...Option) (string, error) {
	reqPayload, _ := o.buildRequest(history, opts, false)

	payloadBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(httpReq)
	if err != nil {
		return "", rerr.New(rerr.KindTransientUpstream, "llm.Chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", rerr.New(rerr.KindTransientUpstream, "llm.Chat", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", rerr.New(rerr.KindPermanentUpstream, "llm.Chat", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	return out.Message.Content, nil
}

func (o *OllamaProvider) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	return o.Chat(ctx, []Message{{Role: "user", Content: prompt}}, opts...)
}

// StreamChat drives Ollama's NDJSON streaming endpoint, emitting one
// StreamEvent per line until a {"done":true} frame closes the channel.
func (o *OllamaProvider) StreamChat(ctx context.Context, history []Message, opts ...Option) (<-chan StreamEvent, error) {
	reqPayload, _ := o.buildRequest(history, opts, true)

	payloadBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(httpReq)
	if err != nil {
		return nil, rerr.New(rerr.KindTransientUpstream, "llm.StreamChat", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, rerr.New(rerr.KindTransientUpstream, "llm.StreamChat", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, rerr.New(rerr.KindPermanentUpstream, "llm.StreamChat", fmt.Errorf("status %d", resp.StatusCode))
	}

	events := make(chan StreamEvent)
	go func() {
		defer resp.Body.Close()
		defer close(events)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var frame ollamaChatResponse
			if err := json.Unmarshal(line, &frame); err != nil {
				select {
				case events <- StreamEvent{Err: fmt.Errorf("llm: decode stream frame: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case events <- StreamEvent{Delta: frame.Message.Content, Done: frame.Done}:
			case <-ctx.Done():
				return
			}
			if frame.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case events <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return events, nil
}
