// Package generator is the answer-synthesis stage of spec.md §4.8: prompt
// assembly from retrieved chunks and memory, streamed token-by-token,
// followed by per-citation SourceDelta events and a final End.
//
// The teacher's response.Generator (pkg/ai or internal/bootstrap wiring)
// is synchronous and returns a plain string; this is grounded instead on
// the teacher's internal/websocket Client.Send channel pattern, which is
// the teacher's one genuinely streaming, channel-fed delivery mechanism.
package generator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ragcore-service/pkg/ragcore/llm"
	"ragcore-service/pkg/ragcore/memory"
	"ragcore-service/pkg/ragcore/retriever"
)

// EventKind tags a streamed Event.
type EventKind string

const (
	EventText   EventKind = "text_delta"
	EventSource EventKind = "source_delta"
	EventEnd    EventKind = "end"
)

// Event is one increment of the generator's output stream.
type Event struct {
	Kind EventKind

	Text string // EventText

	ChunkID    string         // EventSource
	DocumentID string         // EventSource
	Metadata   map[string]any // EventSource

	MessageID string // EventEnd
}

// TenantPersona customizes the system preamble per tenant, per spec.md §6
// (PERSONA_CONFIG is tenant-scoped). Industry, BrandTone, Languages,
// Capabilities and Constraints are rendered into the preamble alongside
// today's date; SystemPreamble, if set, is prepended verbatim ahead of
// them instead of replacing them.
type TenantPersona struct {
	SystemPreamble string

	Industry     string
	BrandTone    string
	Languages    []string
	Capabilities []string
	Constraints  []string
}

// Generator assembles a grounded prompt and streams the model's reply.
type Generator struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Generator {
	return &Generator{provider: provider}
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Generate streams TextDelta events as they arrive from the model, then
// one SourceDelta per distinct cited chunk, then End. The returned
// channel is closed after End or on error (in which case the last event
// is never sent; callers should also check the returned error).
func (g *Generator) Generate(ctx context.Context, persona TenantPersona, query string, chunks []retriever.Chunk, mem memory.Snapshot, messageID string) (<-chan Event, error) {
	messages := buildPrompt(persona, query, chunks, mem)

	stream, err := g.provider.StreamChat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generator: start stream: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		var full strings.Builder
		for ev := range stream {
			if ev.Err != nil {
				return
			}
			if ev.Delta != "" {
				full.WriteString(ev.Delta)
				select {
				case events <- Event{Kind: EventText, Text: ev.Delta}:
				case <-ctx.Done():
					return
				}
			}
			if ev.Done {
				break
			}
		}

		for _, c := range citedChunks(full.String(), chunks) {
			select {
			case events <- Event{Kind: EventSource, ChunkID: c.ChunkID, DocumentID: c.DocumentID, Metadata: c.Metadata}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case events <- Event{Kind: EventEnd, MessageID: messageID}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

// citedChunks parses [n] tokens from text and maps them to their position
// in the context block (1-indexed), deduplicating by chunk_id. Unknown
// citation numbers are silently dropped.
func citedChunks(text string, chunks []retriever.Chunk) []retriever.Chunk {
	seen := make(map[string]struct{})
	var out []retriever.Chunk

	for _, match := range citationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(chunks) {
			continue
		}
		c := chunks[n-1]
		if _, dup := seen[c.ChunkID]; dup {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func buildPrompt(persona TenantPersona, query string, chunks []retriever.Chunk, mem memory.Snapshot) []llm.Message {
	var messages []llm.Message

	messages = append(messages, llm.Message{Role: "system", Content: renderPersonaPreamble(persona)})

	if mem.Summary != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Conversation summary: " + mem.Summary})
	}
	messages = append(messages, mapHistory(mem.Recent)...)

	var context strings.Builder
	if len(chunks) == 0 {
		context.WriteString("No relevant context was found in the corpus. Say so plainly and do not fabricate an answer.")
	} else {
		context.WriteString("Answer only from the context below. Cite used passages by their number, e.g. [1]. If the answer isn't in the context, say so.\n\n")
		for i, c := range chunks {
			source := sourceLabel(c.Metadata)
			fmt.Fprintf(&context, "[%d] (%s)\n%s\n\n", i+1, source, c.Text)
		}
	}
	messages = append(messages, llm.Message{Role: "system", Content: context.String()})
	messages = append(messages, llm.Message{Role: "user", Content: query})

	return messages
}

// renderPersonaPreamble assembles the system preamble spec.md §4.8 requires:
// an optional tenant-authored override, then brand tone/industry/permitted
// languages/declared capabilities/prohibitions, then today's date so the
// model doesn't reason about relative dates against its training cutoff.
func renderPersonaPreamble(persona TenantPersona) string {
	var b strings.Builder

	if persona.SystemPreamble != "" {
		b.WriteString(persona.SystemPreamble)
		b.WriteString("\n\n")
	} else {
		b.WriteString("You are a helpful assistant that answers strictly from the provided context.\n\n")
	}

	if persona.Industry != "" {
		fmt.Fprintf(&b, "You serve a tenant in the %s industry.\n", persona.Industry)
	}
	if persona.BrandTone != "" {
		fmt.Fprintf(&b, "Respond in a %s tone.\n", persona.BrandTone)
	}
	if len(persona.Languages) > 0 {
		fmt.Fprintf(&b, "Respond only in one of these languages: %s.\n", strings.Join(persona.Languages, ", "))
	}
	if len(persona.Capabilities) > 0 {
		fmt.Fprintf(&b, "You are permitted to: %s.\n", strings.Join(persona.Capabilities, "; "))
	}
	if len(persona.Constraints) > 0 {
		fmt.Fprintf(&b, "You must never: %s.\n", strings.Join(persona.Constraints, "; "))
	}

	fmt.Fprintf(&b, "Today's date is %s.", time.Now().Format("2006-01-02"))

	return b.String()
}

func mapHistory(recent []memory.Message) []llm.Message {
	out := make([]llm.Message, len(recent))
	for i, m := range recent {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func sourceLabel(meta map[string]any) string {
	filename, _ := meta["filename"].(string)
	if filename == "" {
		filename = "unknown source"
	}
	if page, ok := meta["page"]; ok {
		return fmt.Sprintf("%s, page %v", filename, page)
	}
	return filename
}
