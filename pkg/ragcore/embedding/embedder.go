package embedding

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"ragcore-service/pkg/ragcore/rerr"
)

const (
	// DefaultMaxBatch is the largest batch forwarded to a Provider in one
	// call; larger requests are split transparently.
	DefaultMaxBatch = 128
	// DefaultMaxTokensPerItem is the model's per-item token ceiling;
	// oversize items are pre-truncated.
	DefaultMaxTokensPerItem = 8192
)

// RetryPolicy is the exponential backoff schedule for transient failures.
type RetryPolicy struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy matches spec.md §4.2: 1s initial, factor 2, cap 30s,
// up to 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: time.Second, Factor: 2, Max: 30 * time.Second, MaxAttempts: 5}
}

// Warning records a per-item truncation so the ingestion job can surface it
// in its metadata, per spec.md §4.2.
type Warning struct {
	Index   int
	Message string
}

// Embedder batches, truncates, rate-limits and retries calls to a raw
// Provider. It is stateless and safe for concurrent use, matching
// spec.md §4.2's statelessness requirement.
type Embedder struct {
	provider    Provider
	maxBatch    int
	maxTokens   int
	retry       RetryPolicy
	limiter     *rate.Limiter
}

// Option configures an Embedder at construction time.
type Option func(*Embedder)

func WithMaxBatch(n int) Option   { return func(e *Embedder) { e.maxBatch = n } }
func WithMaxTokens(n int) Option  { return func(e *Embedder) { e.maxTokens = n } }
func WithRetryPolicy(p RetryPolicy) Option { return func(e *Embedder) { e.retry = p } }

// WithRateLimit caps outbound embed batches to rps requests/sec with a
// burst of `burst`, smoothing load on the upstream model the way the
// token-bucket limiter in golang.org/x/time/rate is meant to.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Embedder) { e.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New wraps provider with the batching/retry/rate-limit policy.
func New(provider Provider, opts ...Option) *Embedder {
	e := &Embedder{
		provider:  provider,
		maxBatch:  DefaultMaxBatch,
		maxTokens: DefaultMaxTokensPerItem,
		retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns one vector per input text, in order, splitting internally
// into provider-sized batches and truncating oversize items.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, []Warning, error) {
	vectors := make([][]float32, len(texts))
	var warnings []Warning

	truncated := make([]string, len(texts))
	for i, t := range texts {
		trimmed, wasTruncated := truncateToTokenBudget(t, e.maxTokens)
		truncated[i] = trimmed
		if wasTruncated {
			warnings = append(warnings, Warning{Index: i, Message: "input truncated to model token limit"})
		}
	}

	for start := 0; start < len(truncated); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(truncated) {
			end = len(truncated)
		}
		batch := truncated[start:end]

		batchVectors, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, warnings, rerr.New(rerr.KindEmbedFailure, "embedder.Embed", err)
		}
		copy(vectors[start:end], batchVectors)
	}

	return vectors, warnings, nil
}

func (e *Embedder) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	delay := e.retry.Initial
	var lastErr error

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := e.provider.Embed(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !rerr.Retryable(rerr.KindOf(err)) {
			return nil, err
		}
		if attempt == e.retry.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * e.retry.Factor)
		if delay > e.retry.Max {
			delay = e.retry.Max
		}
	}

	return nil, lastErr
}

// truncateToTokenBudget approximates the model's tokenizer with a
// whitespace split, matching the chunker's approximation; it is
// deliberately rough (whitespace words, not model BPE) the way the teacher's
// text splitter is a deliberately simple approximation.
func truncateToTokenBudget(text string, maxTokens int) (string, bool) {
	words := splitWords(text)
	if len(words) <= maxTokens {
		return text, false
	}
	return joinWords(words[:maxTokens]), true
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			flush()
			continue
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func joinWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}
