// Package memory is the Conversation Memory of spec.md §4.6: a rolling
// window of recent messages backed by Redis, with LLM-driven
// summarization of anything that falls out of the window.
//
// Grounded on the teacher's use of github.com/redis/go-redis/v9 in
// internal/websocket.Hub and internal/bootstrap/container.go for client
// wiring; the per-session lock/cache shape is net new (the teacher has no
// conversation-memory analogue).
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/tenant"
)

// DefaultWindow is MEMORY_WINDOW from spec.md §6.
const DefaultWindow = 10

// MaxSummaryTokens bounds the compressed summary's length.
const MaxSummaryTokens = 500

// Message is one turn of a session's history.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Snapshot is what load() returns: an optional running summary plus the
// verbatim recent window.
type Snapshot struct {
	Summary string
	Recent  []Message
}

type state struct {
	Summary string    `json:"summary"`
	Recent  []Message `json:"recent"`
}

// Memory is keyed by (tenant, session) and stores state in Redis with a
// lock held for the duration of an append, so concurrent turns on the
// same session never interleave a read-modify-write.
type Memory struct {
	rdb      *redis.Client
	window   int
	provider llm.Provider
	ttl      time.Duration
}

type Option func(*Memory)

func WithWindow(n int) Option { return func(m *Memory) { m.window = n } }
func WithTTL(d time.Duration) Option { return func(m *Memory) { m.ttl = d } }

func New(rdb *redis.Client, provider llm.Provider, opts ...Option) *Memory {
	m := &Memory{rdb: rdb, provider: provider, window: DefaultWindow, ttl: 24 * time.Hour}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func key(t tenant.ID, sessionID string) string {
	return fmt.Sprintf("ragcore:memory:%s:%s", t.String(), sessionID)
}

func lockKey(t tenant.ID, sessionID string) string {
	return fmt.Sprintf("ragcore:memory:lock:%s:%s", t.String(), sessionID)
}

// Load returns the session's current summary and recent window.
func (m *Memory) Load(ctx context.Context, t tenant.ID, sessionID string) (Snapshot, error) {
	if err := tenant.Require(t); err != nil {
		return Snapshot{}, fmt.Errorf("memory.Load: %w", err)
	}

	st, err := m.read(ctx, t, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Summary: st.Summary, Recent: st.Recent}, nil
}

func (m *Memory) read(ctx context.Context, t tenant.ID, sessionID string) (state, error) {
	raw, err := m.rdb.Get(ctx, key(t, sessionID)).Bytes()
	if err == redis.Nil {
		return state{}, nil
	}
	if err != nil {
		return state{}, fmt.Errorf("memory: redis get: %w", err)
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return state{}, fmt.Errorf("memory: decode state: %w", err)
	}
	return st, nil
}

func (m *Memory) write(ctx context.Context, t tenant.ID, sessionID string, st state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("memory: encode state: %w", err)
	}
	if err := m.rdb.Set(ctx, key(t, sessionID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("memory: redis set: %w", err)
	}
	return nil
}

// Append adds message to the session, compressing the overflow into the
// running summary when the window is exceeded. A compression failure
// never drops messages: the window is left over-sized and the next
// Append retries compression, per spec.md §4.6.
func (m *Memory) Append(ctx context.Context, t tenant.ID, sessionID string, msg Message) error {
	if err := tenant.Require(t); err != nil {
		return fmt.Errorf("memory.Append: %w", err)
	}

	unlock, err := m.acquireLock(ctx, t, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := m.read(ctx, t, sessionID)
	if err != nil {
		return err
	}

	st.Recent = append(st.Recent, msg)
	if len(st.Recent) > m.window {
		overflow := st.Recent[:len(st.Recent)-m.window]
		summary, err := m.compress(ctx, st.Summary, overflow)
		if err != nil {
			// leave the window over-sized; retried on next Append
			return m.write(ctx, t, sessionID, st)
		}
		st.Summary = summary
		st.Recent = st.Recent[len(st.Recent)-m.window:]
	}

	return m.write(ctx, t, sessionID, st)
}

func (m *Memory) compress(ctx context.Context, existingSummary string, overflow []Message) (string, error) {
	var transcript string
	for _, msg := range overflow {
		transcript += fmt.Sprintf("%s: %s\n", msg.Role, msg.Content)
	}

	prompt := fmt.Sprintf(
		"Existing summary:\n%s\n\nNew messages to fold in:\n%s\n\n"+
			"Produce an updated summary (max %d tokens) preserving user intents, "+
			"preferences, named entities and unresolved questions. Drop pleasantries.",
		existingSummary, transcript, MaxSummaryTokens,
	)

	return m.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You maintain a running conversation summary."},
		{Role: "user", Content: prompt},
	}, llm.WithMaxTokens(MaxSummaryTokens))
}

// acquireLock takes a short-lived Redis lock (SET NX) so concurrent turns
// on the same session serialize their read-modify-write of state.
func (m *Memory) acquireLock(ctx context.Context, t tenant.ID, sessionID string) (func(), error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	const retryDelay = 20 * time.Millisecond
	deadline := time.Now().Add(5 * time.Second)

	for {
		ok, err := m.rdb.SetNX(ctx, lockKey(t, sessionID), token, 10*time.Second).Result()
		if err != nil {
			return nil, fmt.Errorf("memory: acquire lock: %w", err)
		}
		if ok {
			return func() {
				m.rdb.Del(context.Background(), lockKey(t, sessionID))
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("memory: lock timeout for session %s", sessionID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}
