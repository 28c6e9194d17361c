// Package lexical is the sparse half of the Hybrid Retriever: a per-tenant
// BM25 index over chunk text. There is no teacher analogue — the
// teacher's pkg/lexical package parses Lexical-editor JSON into Markdown
// and has nothing to do with sparse retrieval — so this is built fresh in
// the teacher's idiom (interface mirrors vectorindex.Store, persistence
// mirrors the teacher's file-backed patterns in pkg/utils).
package lexical

import (
	"context"

	"ragcore-service/pkg/ragcore/tenant"
)

// Item is one chunk's text to index.
type Item struct {
	ChunkID    string
	DocumentID string
	Text       string
	Metadata   map[string]any
}

// Result is a ranked BM25 hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float64
	Metadata   map[string]any
}

// Store is the sparse-index contract, tenant-partitioned exactly like
// vectorindex.Store.
type Store interface {
	Upsert(ctx context.Context, t tenant.ID, items []Item) error
	Search(ctx context.Context, t tenant.ID, query string, k int) ([]Result, error)
	DeleteByDocument(ctx context.Context, t tenant.ID, documentID string) error
	Count(ctx context.Context, t tenant.ID) (int, error)
}
