package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider calls a generic embeddings HTTP endpoint shaped like the
// teacher's OllamaProvider (model + batch of strings in, vectors out), but
// supports batched requests per spec.md's Embedder contract.
type HTTPProvider struct {
	BaseURL   string
	Model     string
	Dim       int
	Client    *http.Client
}

// NewHTTPProvider builds a provider against baseURL/v1/embeddings-shaped
// APIs (OpenAI-compatible embeddings endpoints, Ollama's batched variant,
// and similar).
func NewHTTPProvider(baseURL, model string, dim int) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		Model:   model,
		Dim:     dim,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *HTTPProvider) Dimension() int { return p.Dim }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponseItem struct {
	Embedding []float32 `json:"embedding"`
}

type embedResponse struct {
	Data []embedResponseItem `json:"data"`
}

func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: p.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	endpoint := p.BaseURL + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusErr(resp.StatusCode, body)
	}

	var out embedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embed response length mismatch: got %d want %d", len(out.Data), len(texts))
	}

	vectors := make([][]float32, len(out.Data))
	for i, item := range out.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}
