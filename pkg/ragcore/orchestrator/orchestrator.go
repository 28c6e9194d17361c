// Package orchestrator drives one chat turn end to end: memory load,
// planning, retrieval with retry-with-expansion, generation, and
// best-effort persistence of the assistant's reply.
//
// Grounded on the teacher's context.WithTimeout usage (pkg/nats,
// test/integration) for the per-turn deadline, and on the websocket
// Hub/Client channel-forwarding idiom for teeing the generator's stream
// to the caller while also collecting it for persistence. Each turn and
// each of its planning/retrieving/generating/persisting transitions gets
// its own span, the same go.opentelemetry.io/otel stack the teacher wires
// into otelfiber at the HTTP layer.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ragcore-service/pkg/ragcore/generator"
	"ragcore-service/pkg/ragcore/memory"
	"ragcore-service/pkg/ragcore/planner"
	"ragcore-service/pkg/ragcore/retriever"
	"ragcore-service/pkg/ragcore/tenant"
)

// tracer emits one span per turn plus a child span per state-machine
// transition (planning/retrieving/generating/persisting). It no-ops
// unless internal/tracer.InitTracer has registered a real
// TracerProvider, same as the otelfiber HTTP middleware.
var tracer = otel.Tracer("ragcore-service/orchestrator")

// State is the chat-turn state machine of spec.md §4.10.
type State string

const (
	StateReceived   State = "received"
	StatePlanning   State = "planning"
	StateRetrieving State = "retrieving"
	StateGenerating State = "generating"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

const (
	// DefaultTurnDeadline bounds an entire turn, cancelling retrieval and
	// generation subtasks together when it elapses.
	DefaultTurnDeadline = 60 * time.Second

	// DisconnectGrace is how long a best-effort persistence of the
	// assistant message is allowed to continue after the caller goes
	// away, so a client disconnect doesn't also lose the turn's memory
	// record.
	DisconnectGrace = 5 * time.Second

	// DefaultMaxRetries is MAX_RETRIES from spec.md §6.
	DefaultMaxRetries = 1
)

// IDGenerator mints message ids; swappable for deterministic tests.
type IDGenerator func() string

// Orchestrator wires the Planner, Retriever, Generator and Memory into
// the chat pipeline of spec.md §4.10.
type Orchestrator struct {
	planner   *planner.Planner
	retriever *retriever.Retriever
	generator *generator.Generator
	memory    *memory.Memory
	expander  QueryExpander

	turnDeadline        time.Duration
	disconnectGrace     time.Duration
	maxRetries          int
	enableExpansion     bool
	newMessageID        IDGenerator

	mu          sync.Mutex
	sessionLock map[string]*sync.Mutex
}

// QueryExpander produces 2-3 paraphrases of a query for the
// retry-with-expansion path.
type QueryExpander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

type Option func(*Orchestrator)

func WithTurnDeadline(d time.Duration) Option   { return func(o *Orchestrator) { o.turnDeadline = d } }
func WithDisconnectGrace(d time.Duration) Option { return func(o *Orchestrator) { o.disconnectGrace = d } }
func WithMaxRetries(n int) Option               { return func(o *Orchestrator) { o.maxRetries = n } }
func WithQueryExpansion(enabled bool) Option    { return func(o *Orchestrator) { o.enableExpansion = enabled } }
func WithIDGenerator(f IDGenerator) Option      { return func(o *Orchestrator) { o.newMessageID = f } }

func New(p *planner.Planner, r *retriever.Retriever, g *generator.Generator, m *memory.Memory, expander QueryExpander, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:         p,
		retriever:       r,
		generator:       g,
		memory:          m,
		expander:        expander,
		turnDeadline:    DefaultTurnDeadline,
		disconnectGrace: DisconnectGrace,
		maxRetries:      DefaultMaxRetries,
		enableExpansion: true,
		sessionLock:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lockFor(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.sessionLock[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.sessionLock[sessionID] = l
	}
	return l
}

// Turn is a chat turn's outcome: the caller reads Events until it
// closes. A failure before the turn starts is returned by Handle itself;
// a later failure closes Events early and leaves State at StateFailed.
type Turn struct {
	Events <-chan generator.Event
	State  func() State
}

// Handle runs one chat turn for (tenant, sessionID, userMessage),
// serializing turns on the same session so retrieval/generation from one
// turn never interleaves with another.
func (o *Orchestrator) Handle(ctx context.Context, t tenant.ID, sessionID, userMessage string, persona generator.TenantPersona) (*Turn, error) {
	if err := tenant.Require(t); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	lock := o.lockFor(sessionID)
	lock.Lock()

	state := StateReceived
	var stateMu sync.Mutex
	setState := func(s State) {
		stateMu.Lock()
		state = s
		stateMu.Unlock()
	}
	getState := func() State {
		stateMu.Lock()
		defer stateMu.Unlock()
		return state
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.turnDeadline)
	turnCtx, turnSpan := tracer.Start(turnCtx, "orchestrator.turn",
		trace.WithAttributes(
			attribute.String("ragcore.tenant_id", string(t)),
			attribute.String("ragcore.session_id", sessionID),
		))

	if err := o.memory.Append(turnCtx, t, sessionID, memory.Message{Role: "user", Content: userMessage}); err != nil {
		turnSpan.End()
		cancel()
		lock.Unlock()
		setState(StateFailed)
		return nil, fmt.Errorf("orchestrator: persist user message: %w", err)
	}

	out := make(chan generator.Event)
	go func() {
		defer lock.Unlock()
		defer cancel()
		defer turnSpan.End()
		defer close(out)
		o.runTurn(turnCtx, ctx, t, sessionID, userMessage, persona, setState, out)
	}()

	return &Turn{Events: out, State: getState}, nil
}

func (o *Orchestrator) runTurn(turnCtx, callerCtx context.Context, t tenant.ID, sessionID, userMessage string, persona generator.TenantPersona, setState func(State), out chan<- generator.Event) {
	setState(StatePlanning)
	planCtx, planSpan := tracer.Start(turnCtx, "orchestrator.plan")

	snap, err := o.memory.Load(planCtx, t, sessionID)
	if err != nil {
		planSpan.End()
		setState(StateFailed)
		return
	}

	decision := o.planner.ClassifyAndRewrite(planCtx, userMessage, snap)
	planSpan.End()

	var chunks []retriever.Chunk
	if decision.Kind == planner.KindKnowledge {
		setState(StateRetrieving)
		retrieveCtx, retrieveSpan := tracer.Start(turnCtx, "orchestrator.retrieve")
		chunks, err = o.retrieveWithExpansion(retrieveCtx, t, decision.RewrittenQuery)
		retrieveSpan.End()
		if err != nil {
			setState(StateFailed)
			return
		}
	}

	setState(StateGenerating)
	generateCtx, generateSpan := tracer.Start(turnCtx, "orchestrator.generate")
	messageID := o.generateMessageID()
	events, err := o.generator.Generate(generateCtx, persona, userMessage, chunks, snap, messageID)
	if err != nil {
		generateSpan.End()
		setState(StateFailed)
		return
	}

	assistantText, citedChunkIDs := o.teeEvents(callerCtx, events, out)
	generateSpan.End()

	setState(StatePersisting)
	_, persistSpan := tracer.Start(turnCtx, "orchestrator.persist")
	o.persistAssistantMessage(turnCtx, t, sessionID, assistantText, citedChunkIDs)
	persistSpan.End()
	setState(StateDone)
}

// retrieveWithExpansion implements spec.md §4.10 step 5: on a zero-hit
// first retrieval, expand the query into paraphrases and union-retrieve
// across them, up to maxRetries times.
func (o *Orchestrator) retrieveWithExpansion(ctx context.Context, t tenant.ID, query string) ([]retriever.Chunk, error) {
	chunks, err := o.retriever.Retrieve(ctx, t, query)
	if err != nil {
		return nil, err
	}
	if len(chunks) > 0 || !o.enableExpansion || o.expander == nil {
		return chunks, nil
	}

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		paraphrases, err := o.expander.Expand(ctx, query)
		if err != nil || len(paraphrases) == 0 {
			break
		}
		queries := append([]string{query}, paraphrases...)
		chunks, err = o.retriever.RetrieveExpanded(ctx, t, queries)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			break
		}
	}
	return chunks, nil
}

// teeEvents forwards events to the caller while also reconstructing the
// full assistant text and the set of cited chunk ids, so the turn can be
// persisted with retrieval_metadata even if the caller has gone away.
func (o *Orchestrator) teeEvents(callerCtx context.Context, events <-chan generator.Event, out chan<- generator.Event) (string, []string) {
	var text string
	var citedIDs []string

	for ev := range events {
		select {
		case out <- ev:
		case <-callerCtx.Done():
			// caller disconnected; keep draining internally so persistence
			// still sees the text and citations produced so far (generation
			// runs under the caller's context, so it stops soon after).
		}
		switch ev.Kind {
		case generator.EventText:
			text += ev.Text
		case generator.EventSource:
			citedIDs = append(citedIDs, ev.ChunkID)
		}
	}
	return text, citedIDs
}

func (o *Orchestrator) persistAssistantMessage(turnCtx context.Context, t tenant.ID, sessionID, text string, citedChunkIDs []string) {
	ctx := turnCtx
	if turnCtx.Err() != nil {
		// the turn deadline already elapsed or the caller disconnected;
		// give persistence its own short grace window rather than losing
		// the message entirely.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), o.disconnectGrace)
		defer cancel()
	}

	_ = o.memory.Append(ctx, t, sessionID, memory.Message{Role: "assistant", Content: text})
	// citedChunkIDs is not persisted here: the caller has already received
	// each cited chunk id as a SourceDelta event; a durable audit log keyed
	// by message id is a handler-layer concern, not the rolling conversation
	// window's.
}

func (o *Orchestrator) generateMessageID() string {
	if o.newMessageID != nil {
		return o.newMessageID()
	}
	return fmt.Sprintf("msg-%d", time.Now().UnixNano())
}
