// Package chunk splits extracted document text into overlapping,
// deterministically-identified windows for embedding and indexing.
//
// Grounded on the teacher's pkg/utils.SplitText (character-window splitter
// with overlap), generalized to the token-aware, sentence-boundary-aware
// algorithm spec'd for this service.
package chunk

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultSize is the target window size in tokens.
	DefaultSize = 512
	// DefaultOverlap is how many trailing tokens of a window are repeated
	// at the start of the next one.
	DefaultOverlap = 50

	minTailTokens = 32 // below this, the final remainder merges into the previous chunk
)

// Metadata carries the source attributes a Chunk's citation needs.
type Metadata struct {
	Filename string
	Page     int // 0 when the source has no pagination
}

// Chunk is a bounded, ordinally-numbered fragment of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	TokenCount int
	Metadata   Metadata
}

// Splitter chunks document text with a fixed token window and overlap.
type Splitter struct {
	Size    int
	Overlap int
}

// New constructs a Splitter; a non-positive size, or an overlap that is
// negative or not smaller than size, falls back to the defaults.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}
	return &Splitter{Size: size, Overlap: overlap}
}

// Chunk splits text into an ordered, deterministic list of Chunks.
// Empty or whitespace-only input yields an empty (not nil-panicking) list.
func (s *Splitter) Chunk(documentID, text string, meta Metadata) []Chunk {
	toks := tokenize(text)
	if len(toks) == 0 {
		return nil
	}

	step := s.Size - s.Overlap
	if step <= 0 {
		step = s.Size
	}

	var chunks []Chunk
	prevEnd := 0
	for start := 0; start < len(toks); start += step {
		end := start + s.Size
		if end > len(toks) {
			end = len(toks)
		}

		end = preferSentenceBoundary(toks, start, end, s.Size)

		// Final window: when the tokens past the previous chunk's end are
		// fewer than minTail, append them to that chunk instead of emitting
		// a sliver.
		if end == len(toks) && end-prevEnd < minTail(s.Overlap) && len(chunks) > 0 {
			prev := &chunks[len(chunks)-1]
			tail := joinTokens(toks[prevEnd:end])
			prev.Text = prev.Text + " " + tail
			prev.TokenCount = countTokens(prev.Text)
			break
		}

		segment := toks[start:end]
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Ordinal:    len(chunks),
			Text:       joinTokens(segment),
			TokenCount: len(segment),
			Metadata:   meta,
		})
		prevEnd = end

		if end == len(toks) {
			break
		}
	}

	for i := range chunks {
		chunks[i].ID = ChunkID(documentID, chunks[i].Ordinal)
	}

	return chunks
}

// ChunkID deterministically derives a chunk identity from its document and
// ordinal, so re-ingestion of the same document is idempotent.
func ChunkID(documentID string, ordinal int) string {
	h := sha1.New()
	h.Write([]byte(fmt.Sprintf("%s:%d", documentID, ordinal)))
	return hex.EncodeToString(h.Sum(nil))
}

func minTail(overlap int) int {
	if overlap < minTailTokens {
		return overlap
	}
	return minTailTokens
}

// preferSentenceBoundary nudges `end` backward to the nearest sentence
// terminator when one falls within the final 10% of the window, without
// ever stalling progress (never moves end below start+1).
func preferSentenceBoundary(toks []token, start, end, windowSize int) int {
	if end >= len(toks) {
		return end
	}
	softZone := windowSize / 10
	if softZone < 1 {
		return end
	}
	floor := end - softZone
	if floor <= start {
		return end
	}
	for i := end - 1; i > floor; i-- {
		if toks[i].isSentenceEnd {
			return i + 1
		}
	}
	return end
}

// token is a tokenizer-approximated unit: a run of non-space characters,
// compatible in spirit (not in vocabulary) with the embedding model's
// tokenizer. A real deployment swaps this for the model's actual BPE
// tokenizer; the windowing algorithm above is agnostic to the unit.
type token struct {
	text          string
	isSentenceEnd bool
}

func tokenize(text string) []token {
	var toks []token
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		s := b.String()
		toks = append(toks, token{
			text:          s,
			isSentenceEnd: endsSentence(s),
		})
		b.Reset()
	}

	for _, r := range text {
		if unicode.IsSpace(r) {
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return toks
}

func endsSentence(s string) bool {
	if s == "" {
		return false
	}
	last := rune(s[len(s)-1])
	return last == '.' || last == '!' || last == '?'
}

func joinTokens(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

func countTokens(text string) int {
	return len(tokenize(text))
}
