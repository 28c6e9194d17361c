// Package vectorindex is the tenant-partitioned approximate nearest
// neighbour store behind the Hybrid Retriever's dense branch.
//
// Grounded on the teacher's NoteEmbeddingRepositoryImpl (pgvector.go +
// note_embedding_repository_impl.go): cosine distance via pgvector's `<=>`
// operator, a join/filter on the owning tenant so isolation is enforced in
// the query itself, not after the fact.
package vectorindex

import (
	"context"

	"ragcore-service/pkg/ragcore/tenant"
)

// Item is one chunk's vector to upsert.
type Item struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
	Metadata   map[string]any
}

// Result is a ranked search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float32 // cosine similarity, higher is better
	Metadata   map[string]any
}

// Store is the tenant-partitioned ANN contract of spec.md §4.3. Every
// method takes a tenant.ID as its mandatory, server-side-enforced filter;
// a missing/invalid tenant is a TenantScopeViolation, not an
// all-tenants query.
type Store interface {
	Upsert(ctx context.Context, t tenant.ID, items []Item) error
	Search(ctx context.Context, t tenant.ID, queryVector []float32, k int) ([]Result, error)
	DeleteByDocument(ctx context.Context, t tenant.ID, documentID string) error
	Count(ctx context.Context, t tenant.ID) (int, error)
}
