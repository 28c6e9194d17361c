package lexical

import (
	"math"
	"sort"
)

// k1 and b are the standard Okapi BM25 tuning constants.
const (
	k1 = 1.5
	b  = 0.75
)

type docRecord struct {
	ChunkID    string
	DocumentID string
	Metadata   map[string]any
	termFreq   map[string]int
	length     int
}

// index is the per-tenant in-memory BM25 structure. Treated as immutable
// once published: a writer clones it, mutates the clone, and only then
// publishes the clone, so any index a reader holds is never mutated
// underneath it.
type index struct {
	docs         map[string]*docRecord // chunk_id -> record
	postings     map[string]map[string]struct{} // term -> set of chunk_id
	totalLength  int
}

func newIndex() *index {
	return &index{
		docs:     make(map[string]*docRecord),
		postings: make(map[string]map[string]struct{}),
	}
}

// clone returns a new index sharing existing docRecords (never mutated in
// place after creation) but with independent maps, so mutating the clone
// cannot affect a snapshot a reader still holds.
func (ix *index) clone() *index {
	docs := make(map[string]*docRecord, len(ix.docs))
	for chunkID, rec := range ix.docs {
		docs[chunkID] = rec
	}
	postings := make(map[string]map[string]struct{}, len(ix.postings))
	for term, set := range ix.postings {
		newSet := make(map[string]struct{}, len(set))
		for chunkID := range set {
			newSet[chunkID] = struct{}{}
		}
		postings[term] = newSet
	}
	return &index{docs: docs, postings: postings, totalLength: ix.totalLength}
}

func (ix *index) upsert(item Item) {
	ix.remove(item.ChunkID)

	terms := tokenize(item.Text)
	freq := make(map[string]int, len(terms))
	for _, term := range terms {
		freq[term]++
	}

	rec := &docRecord{
		ChunkID:    item.ChunkID,
		DocumentID: item.DocumentID,
		Metadata:   item.Metadata,
		termFreq:   freq,
		length:     len(terms),
	}
	ix.docs[item.ChunkID] = rec
	ix.totalLength += rec.length

	for term := range freq {
		set, ok := ix.postings[term]
		if !ok {
			set = make(map[string]struct{})
			ix.postings[term] = set
		}
		set[item.ChunkID] = struct{}{}
	}
}

func (ix *index) remove(chunkID string) {
	rec, ok := ix.docs[chunkID]
	if !ok {
		return
	}
	for term := range rec.termFreq {
		if set, ok := ix.postings[term]; ok {
			delete(set, chunkID)
			if len(set) == 0 {
				delete(ix.postings, term)
			}
		}
	}
	ix.totalLength -= rec.length
	delete(ix.docs, chunkID)
}

func (ix *index) removeByDocument(documentID string) {
	for chunkID, rec := range ix.docs {
		if rec.DocumentID == documentID {
			ix.remove(chunkID)
			_ = rec
		}
	}
}

func (ix *index) avgDocLength() float64 {
	if len(ix.docs) == 0 {
		return 0
	}
	return float64(ix.totalLength) / float64(len(ix.docs))
}

// idf computes the Okapi BM25 inverse document frequency for term; the +1
// inside the log keeps it positive, so a term present in every document
// still contributes rather than going negative.
func (ix *index) idf(term string) float64 {
	n := float64(len(ix.docs))
	nq := float64(len(ix.postings[term]))
	v := math.Log((n-nq+0.5)/(nq+0.5) + 1)
	return v
}

func (ix *index) search(query string, k int) []Result {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || len(ix.docs) == 0 {
		return nil
	}
	avgdl := ix.avgDocLength()

	scores := make(map[string]float64)
	seen := make(map[string]struct{})
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		set, ok := ix.postings[term]
		if !ok {
			continue
		}
		idf := ix.idf(term)
		for chunkID := range set {
			rec := ix.docs[chunkID]
			f := float64(rec.termFreq[term])
			denom := f + k1*(1-b+b*float64(rec.length)/avgdl)
			scores[chunkID] += idf * (f * (k1 + 1) / denom)
		}
	}

	results := make([]Result, 0, len(scores))
	for chunkID, score := range scores {
		rec := ix.docs[chunkID]
		results = append(results, Result{
			ChunkID:    chunkID,
			DocumentID: rec.DocumentID,
			Score:      score,
			Metadata:   rec.Metadata,
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
	return results
}
