package lexical

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"ragcore-service/pkg/ragcore/rerr"
	"ragcore-service/pkg/ragcore/tenant"
)

// snapshot is the on-disk shape of one tenant's index, gob-encoded since
// this is purely internal process state, not a wire format any consumer
// outside this package ever parses.
type snapshot struct {
	Docs []Item
}

// partition is one tenant's index. writeMu gives that tenant a single
// writer at a time; snap is an atomic pointer to the last-committed,
// immutable index, so readers never block on a writer's disk I/O and
// never observe a half-applied mutation.
type partition struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[index]
}

// FileStore is a per-tenant BM25 index kept in memory and persisted to
// <dir>/<tenant_id>.bm25 on every mutation via write-then-rename, so a
// crash mid-write never corrupts the last good snapshot. Tenants don't
// share a lock: tenant A's search never blocks on tenant B's write, and
// same-tenant reads never block on that tenant's write either, since they
// read an already-swapped-in snapshot rather than the partition being
// written.
type FileStore struct {
	dir string

	mu         sync.Mutex // guards only the partitions map itself
	partitions map[tenant.ID]*partition
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lexical: create index dir: %w", err)
	}
	return &FileStore{dir: dir, partitions: make(map[tenant.ID]*partition)}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) pathFor(t tenant.ID) string {
	return filepath.Join(s.dir, t.String()+".bm25")
}

// partitionFor returns the tenant's partition, creating and loading it
// from disk on first access. Loading happens under the partition's own
// writeMu so two concurrent first-accesses don't race to populate snap.
func (s *FileStore) partitionFor(t tenant.ID) (*partition, error) {
	s.mu.Lock()
	p, ok := s.partitions[t]
	if !ok {
		p = &partition{}
		s.partitions[t] = p
	}
	s.mu.Unlock()

	if p.snap.Load() != nil {
		return p, nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.snap.Load() != nil {
		return p, nil
	}

	ix := newIndex()
	data, err := os.ReadFile(s.pathFor(t))
	switch {
	case os.IsNotExist(err):
		// no snapshot yet, start empty
	case err != nil:
		return nil, fmt.Errorf("lexical: read snapshot: %w", err)
	default:
		snap, decErr := decodeSnapshot(data)
		if decErr != nil {
			return nil, fmt.Errorf("lexical: decode snapshot: %w", decErr)
		}
		for _, item := range snap.Docs {
			ix.upsert(item)
		}
	}

	p.snap.Store(ix)
	return p, nil
}

func (s *FileStore) persist(t tenant.ID, ix *index) error {
	docs := make([]Item, 0, len(ix.docs))
	for _, rec := range ix.docs {
		docs = append(docs, Item{
			ChunkID:    rec.ChunkID,
			DocumentID: rec.DocumentID,
			Metadata:   rec.Metadata,
			Text:       reconstructText(rec),
		})
	}

	data, err := encodeSnapshot(snapshot{Docs: docs})
	if err != nil {
		return fmt.Errorf("lexical: encode snapshot: %w", err)
	}

	tmp := s.pathFor(t) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lexical: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.pathFor(t)); err != nil {
		return fmt.Errorf("lexical: rename snapshot: %w", err)
	}
	return nil
}

// reconstructText rebuilds a term-frequency-faithful text blob so a
// reloaded snapshot rescoring matches the original insert; exact token
// order doesn't matter to BM25, only multiplicity.
func reconstructText(rec *docRecord) string {
	out := ""
	for term, freq := range rec.termFreq {
		for i := 0; i < freq; i++ {
			out += term + " "
		}
	}
	return out
}

func (s *FileStore) Upsert(ctx context.Context, t tenant.ID, items []Item) error {
	if err := tenant.Require(t); err != nil {
		return rerr.New(rerr.KindTenantScopeViolation, "lexical.Upsert", err)
	}

	p, err := s.partitionFor(t)
	if err != nil {
		return rerr.New(rerr.KindIndexWriteFailure, "lexical.Upsert", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	next := p.snap.Load().clone()
	for _, item := range items {
		next.upsert(item)
	}
	if err := s.persist(t, next); err != nil {
		return rerr.New(rerr.KindIndexWriteFailure, "lexical.Upsert", err)
	}
	p.snap.Store(next)
	return nil
}

func (s *FileStore) Search(ctx context.Context, t tenant.ID, query string, k int) ([]Result, error) {
	if err := tenant.Require(t); err != nil {
		return nil, rerr.New(rerr.KindTenantScopeViolation, "lexical.Search", err)
	}

	p, err := s.partitionFor(t)
	if err != nil {
		return nil, rerr.New(rerr.KindIndexWriteFailure, "lexical.Search", err)
	}

	return p.snap.Load().search(query, k), nil
}

func (s *FileStore) DeleteByDocument(ctx context.Context, t tenant.ID, documentID string) error {
	if err := tenant.Require(t); err != nil {
		return rerr.New(rerr.KindTenantScopeViolation, "lexical.DeleteByDocument", err)
	}

	p, err := s.partitionFor(t)
	if err != nil {
		return rerr.New(rerr.KindIndexWriteFailure, "lexical.DeleteByDocument", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	next := p.snap.Load().clone()
	next.removeByDocument(documentID)
	if err := s.persist(t, next); err != nil {
		return rerr.New(rerr.KindIndexWriteFailure, "lexical.DeleteByDocument", err)
	}
	p.snap.Store(next)
	return nil
}

func (s *FileStore) Count(ctx context.Context, t tenant.ID) (int, error) {
	if err := tenant.Require(t); err != nil {
		return 0, rerr.New(rerr.KindTenantScopeViolation, "lexical.Count", err)
	}

	p, err := s.partitionFor(t)
	if err != nil {
		return 0, rerr.New(rerr.KindIndexWriteFailure, "lexical.Count", err)
	}

	return len(p.snap.Load().docs), nil
}

func encodeSnapshot(snap snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (snapshot, error) {
	var snap snapshot
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}
