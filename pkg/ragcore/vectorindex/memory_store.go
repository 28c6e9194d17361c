package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"ragcore-service/pkg/ragcore/rerr"
	"ragcore-service/pkg/ragcore/tenant"
)

// MemoryStore is an in-process Store, used in tests and as the default
// before a pgvector-backed deployment is wired up. Reads use the
// last-committed snapshot under a read lock; writes take the write lock,
// matching the "many readers, single writer per tenant" policy of
// spec.md §5 even though here the scope is the whole store rather than a
// per-tenant lock (an in-memory store pays no disk-serialization cost that
// would justify narrowing it further).
type MemoryStore struct {
	mu       sync.RWMutex
	byTenant map[tenant.ID]map[string]Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: make(map[tenant.ID]map[string]Item)}
}

func (s *MemoryStore) Upsert(ctx context.Context, t tenant.ID, items []Item) error {
	if err := tenant.Require(t); err != nil {
		return rerr.New(rerr.KindTenantScopeViolation, "vectorindex.Upsert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.byTenant[t]
	if !ok {
		partition = make(map[string]Item)
		s.byTenant[t] = partition
	}
	for _, item := range items {
		partition[item.ChunkID] = item
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, t tenant.ID, queryVector []float32, k int) ([]Result, error) {
	if err := tenant.Require(t); err != nil {
		// Fail-closed: a programming error that omits the tenant filter
		// must never see cross-tenant data.
		return nil, rerr.New(rerr.KindTenantScopeViolation, "vectorindex.Search", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	partition := s.byTenant[t]
	results := make([]Result, 0, len(partition))
	for chunkID, item := range partition {
		results = append(results, Result{
			ChunkID:    chunkID,
			DocumentID: item.DocumentID,
			Score:      cosineSimilarity(queryVector, item.Vector),
			Metadata:   item.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, t tenant.ID, documentID string) error {
	if err := tenant.Require(t); err != nil {
		return rerr.New(rerr.KindTenantScopeViolation, "vectorindex.DeleteByDocument", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	partition := s.byTenant[t]
	for chunkID, item := range partition {
		if item.DocumentID == documentID {
			delete(partition, chunkID)
		}
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, t tenant.ID) (int, error) {
	if err := tenant.Require(t); err != nil {
		return 0, rerr.New(rerr.KindTenantScopeViolation, "vectorindex.Count", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTenant[t]), nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
