// Package retriever implements the Hybrid Retriever: parallel dense+sparse
// fan-out, Reciprocal Rank Fusion, and a batched LLM re-rank pass.
//
// Grounded on the teacher's internal/ai/pipeline orchestration style
// (fan-out via goroutines + a result channel) for the parallel search
// step, and on pkg/llm for the re-rank call's provider boundary.
package retriever

import (
	"context"
	"sort"

	"ragcore-service/pkg/ragcore/lexical"
	"ragcore-service/pkg/ragcore/tenant"
	"ragcore-service/pkg/ragcore/vectorindex"
)

const (
	DefaultRetrievalTopK = 20
	DefaultRerankTopK    = 10
	DefaultFinalTopK     = 5
	rrfK                 = 60
)

// Chunk is a retrieved passage with its fused/re-ranked score, carrying
// enough of its own text and source metadata for the Generator's prompt.
type Chunk struct {
	ChunkID    string
	DocumentID string
	Text       string
	Metadata   map[string]any
	Score      float64
}

// Retriever fans a query out to the vector and lexical indices, fuses the
// two ranked lists with RRF, and optionally re-ranks with an LLM.
type Retriever struct {
	vectorStore  vectorindex.Store
	lexicalStore lexical.Store
	embedFn      func(ctx context.Context, query string) ([]float32, error)
	reranker     Reranker

	retrievalTopK int
	rerankTopK    int
	finalTopK     int
}

// Reranker scores RRF candidates against the query; the zero value
// (nil field) means re-ranking is skipped and RRF order is returned.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Chunk) ([]RerankScore, error)
}

type RerankScore struct {
	ChunkID   string
	Relevance float64
}

type Option func(*Retriever)

func WithTopKs(retrieval, rerank, final int) Option {
	return func(r *Retriever) {
		r.retrievalTopK = retrieval
		r.rerankTopK = rerank
		r.finalTopK = final
	}
}

func WithReranker(rr Reranker) Option {
	return func(r *Retriever) { r.reranker = rr }
}

func New(vectorStore vectorindex.Store, lexicalStore lexical.Store, embedFn func(ctx context.Context, query string) ([]float32, error), opts ...Option) *Retriever {
	r := &Retriever{
		vectorStore:   vectorStore,
		lexicalStore:  lexicalStore,
		embedFn:       embedFn,
		retrievalTopK: DefaultRetrievalTopK,
		rerankTopK:    DefaultRerankTopK,
		finalTopK:     DefaultFinalTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve runs the full pipeline of spec.md §4.5. An empty result is not
// an error; the caller (orchestrator) decides whether to retry.
func (r *Retriever) Retrieve(ctx context.Context, t tenant.ID, query string) ([]Chunk, error) {
	fused, err := r.fusedCandidates(ctx, t, query)
	if err != nil {
		return nil, err
	}
	return r.rerankAndTruncate(ctx, query, fused), nil
}

// RetrieveExpanded runs the fan-out+RRF stage for every query in queries,
// unions the resulting candidates keeping each chunk's max RRF score, and
// re-runs the re-rank step once on the merged set. Used by the
// orchestrator's retry-with-expansion path (spec.md §4.10 step 5).
func (r *Retriever) RetrieveExpanded(ctx context.Context, t tenant.ID, queries []string) ([]Chunk, error) {
	byID := make(map[string]Chunk)
	for _, q := range queries {
		fused, err := r.fusedCandidates(ctx, t, q)
		if err != nil {
			return nil, err
		}
		for _, c := range fused {
			existing, ok := byID[c.ChunkID]
			if !ok || c.Score > existing.Score {
				byID[c.ChunkID] = c
			}
		}
	}

	merged := make([]Chunk, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})
	if len(merged) > r.rerankTopK {
		merged = merged[:r.rerankTopK]
	}

	representativeQuery := ""
	if len(queries) > 0 {
		representativeQuery = queries[0]
	}
	return r.rerankAndTruncate(ctx, representativeQuery, merged), nil
}

// fusedCandidates runs the embed + parallel dense/sparse search + RRF
// fusion stages (spec.md §4.5 steps 1-3), truncated to rerankTopK.
func (r *Retriever) fusedCandidates(ctx context.Context, t tenant.ID, query string) ([]Chunk, error) {
	queryVector, err := r.embedFn(ctx, query)
	if err != nil {
		return nil, err
	}

	type searchOutcome struct {
		dense  []vectorindex.Result
		sparse []lexical.Result
		err    error
	}
	results := make(chan searchOutcome, 2)

	go func() {
		dense, err := r.vectorStore.Search(ctx, t, queryVector, r.retrievalTopK)
		results <- searchOutcome{dense: dense, err: err}
	}()
	go func() {
		sparse, err := r.lexicalStore.Search(ctx, t, query, r.retrievalTopK)
		results <- searchOutcome{sparse: sparse, err: err}
	}()

	var dense []vectorindex.Result
	var sparse []lexical.Result
	for i := 0; i < 2; i++ {
		out := <-results
		if out.err != nil {
			return nil, out.err
		}
		if out.dense != nil {
			dense = out.dense
		}
		if out.sparse != nil {
			sparse = out.sparse
		}
	}

	fused := fuseRRF(dense, sparse)
	if len(fused) > r.rerankTopK {
		fused = fused[:r.rerankTopK]
	}
	return fused, nil
}

// rerankAndTruncate applies step 4-5 of spec.md §4.5: optional LLM
// re-rank, then truncation to finalTopK.
func (r *Retriever) rerankAndTruncate(ctx context.Context, query string, fused []Chunk) []Chunk {
	if len(fused) == 0 {
		return nil
	}

	if r.reranker != nil {
		scores, err := r.reranker.Rerank(ctx, query, fused)
		if err == nil {
			fused = applyRerank(fused, scores)
		}
		// parse failure or timeout: fall through with RRF order, per spec.
	}

	if len(fused) > r.finalTopK {
		fused = fused[:r.finalTopK]
	}
	return fused
}

// fuseRRF combines dense and sparse ranked lists by Reciprocal Rank
// Fusion (K=60), ordering by descending sum and breaking ties by
// chunk_id ascending for determinism.
func fuseRRF(dense []vectorindex.Result, sparse []lexical.Result) []Chunk {
	type accum struct {
		chunk Chunk
		score float64
	}
	byID := make(map[string]*accum)
	order := make([]string, 0)

	touch := func(chunkID string, contribute float64, seed func() Chunk) {
		a, ok := byID[chunkID]
		if !ok {
			a = &accum{chunk: seed()}
			byID[chunkID] = a
			order = append(order, chunkID)
		}
		a.score += contribute
	}

	for rank, res := range dense {
		contribute := 1.0 / float64(rrfK+rank+1)
		touch(res.ChunkID, contribute, func() Chunk {
			return chunkFromDense(res)
		})
	}
	for rank, res := range sparse {
		contribute := 1.0 / float64(rrfK+rank+1)
		touch(res.ChunkID, contribute, func() Chunk {
			return chunkFromSparse(res)
		})
	}

	out := make([]Chunk, 0, len(order))
	for _, id := range order {
		a := byID[id]
		a.chunk.Score = a.score
		out = append(out, a.chunk)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

func chunkFromDense(r vectorindex.Result) Chunk {
	return Chunk{
		ChunkID:    r.ChunkID,
		DocumentID: r.DocumentID,
		Text:       textFromMetadata(r.Metadata),
		Metadata:   r.Metadata,
	}
}

func chunkFromSparse(r lexical.Result) Chunk {
	return Chunk{
		ChunkID:    r.ChunkID,
		DocumentID: r.DocumentID,
		Text:       textFromMetadata(r.Metadata),
		Metadata:   r.Metadata,
	}
}

func textFromMetadata(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if text, ok := meta["text"].(string); ok {
		return text
	}
	return ""
}

func applyRerank(fused []Chunk, scores []RerankScore) []Chunk {
	byID := make(map[string]float64, len(scores))
	for _, s := range scores {
		byID[s.ChunkID] = s.Relevance
	}

	type ranked struct {
		chunk     Chunk
		relevance float64
		rrfOrder  int
	}
	rankedList := make([]ranked, len(fused))
	for i, c := range fused {
		rel, ok := byID[c.ChunkID]
		if !ok {
			rel = -1 // unseen by the reranker sorts last
		}
		rankedList[i] = ranked{chunk: c, relevance: rel, rrfOrder: i}
	}

	sort.SliceStable(rankedList, func(i, j int) bool {
		if rankedList[i].relevance != rankedList[j].relevance {
			return rankedList[i].relevance > rankedList[j].relevance
		}
		return rankedList[i].rrfOrder < rankedList[j].rrfOrder
	})

	out := make([]Chunk, len(rankedList))
	for i, r := range rankedList {
		c := r.chunk
		if r.relevance >= 0 {
			c.Score = r.relevance
		}
		out[i] = c
	}
	return out
}
