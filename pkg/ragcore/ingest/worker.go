// Package ingest is the Ingestion Worker of spec.md §4.9: it drains
// DocumentUpload jobs, runs them through the Chunker and Embedder, and
// upserts both indices before marking the job complete.
package ingest

import (
	"context"
	"fmt"

	"ragcore-service/pkg/ragcore/chunk"
	"ragcore-service/pkg/ragcore/embedding"
	"ragcore-service/pkg/ragcore/job"
	"ragcore-service/pkg/ragcore/lexical"
	"ragcore-service/pkg/ragcore/tenant"
	"ragcore-service/pkg/ragcore/vectorindex"
)

// Progress milestones reported to the job store, per spec.md §4.9.
const (
	milestoneStarted   = 0.1
	milestoneChunked   = 0.5
	milestoneEmbedded  = 0.9
	milestoneCompleted = 1.0
)

type Worker struct {
	queue        job.Queue
	jobStore     job.Store
	splitter     *chunk.Splitter
	embedder     *embedding.Embedder
	vectorStore  vectorindex.Store
	lexicalStore lexical.Store
}

func New(queue job.Queue, jobStore job.Store, splitter *chunk.Splitter, embedder *embedding.Embedder, vectorStore vectorindex.Store, lexicalStore lexical.Store) *Worker {
	return &Worker{
		queue:        queue,
		jobStore:     jobStore,
		splitter:     splitter,
		embedder:     embedder,
		vectorStore:  vectorStore,
		lexicalStore: lexicalStore,
	}
}

// Run consumes jobs from the queue under durableName until ctx is
// cancelled or the queue's Consume call returns.
func (w *Worker) Run(ctx context.Context, durableName string) error {
	return w.queue.Consume(ctx, durableName, w.handle)
}

// handle processes one job. It is safe under at-least-once redelivery:
// chunk_ids are deterministic and both index upserts are idempotent, so
// replaying a job that already completed just overwrites identical data.
func (w *Worker) handle(ctx context.Context, j job.Job) error {
	if err := tenant.Require(tenant.ID(j.TenantID)); err != nil {
		_ = w.jobStore.Fail(ctx, j.JobID, err.Error())
		return err
	}
	t := tenant.ID(j.TenantID)

	if err := w.jobStore.UpdateProgress(ctx, j.JobID, milestoneStarted); err != nil {
		return err
	}

	chunks := w.splitter.Chunk(j.DocumentID, j.RawText, chunk.Metadata{Filename: j.Filename})

	if len(chunks) == 0 {
		return w.jobStore.Complete(ctx, j.JobID, job.Result{ChunksCreated: 0, EmbeddingsGenerated: 0})
	}

	if err := w.jobStore.UpdateProgress(ctx, j.JobID, milestoneChunked); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, _, err := w.embedder.Embed(ctx, texts)
	if err != nil {
		_ = w.jobStore.Fail(ctx, j.JobID, err.Error())
		return fmt.Errorf("ingest: embed chunks: %w", err)
	}

	if err := w.jobStore.UpdateProgress(ctx, j.JobID, milestoneEmbedded); err != nil {
		return err
	}

	vectorItems := make([]vectorindex.Item, len(chunks))
	lexicalItems := make([]lexical.Item, len(chunks))
	for i, c := range chunks {
		meta := map[string]any{
			"text":     c.Text,
			"filename": c.Metadata.Filename,
			"page":     c.Metadata.Page,
			"ordinal":  c.Ordinal,
		}
		vectorItems[i] = vectorindex.Item{ChunkID: c.ID, DocumentID: c.DocumentID, Vector: vectors[i], Metadata: meta}
		lexicalItems[i] = lexical.Item{ChunkID: c.ID, DocumentID: c.DocumentID, Text: c.Text, Metadata: meta}
	}

	// Both indices must succeed before the job is marked completed
	// (bi-index consistency, spec.md §8).
	if err := w.vectorStore.Upsert(ctx, t, vectorItems); err != nil {
		_ = w.jobStore.Fail(ctx, j.JobID, err.Error())
		return fmt.Errorf("ingest: upsert vector index: %w", err)
	}
	if err := w.lexicalStore.Upsert(ctx, t, lexicalItems); err != nil {
		// Roll back the vector rows just written so neither index holds
		// this document rather than leaving the dense side orphaned.
		if delErr := w.vectorStore.DeleteByDocument(ctx, t, j.DocumentID); delErr != nil {
			err = fmt.Errorf("%w (vector rollback also failed: %v)", err, delErr)
		}
		_ = w.jobStore.Fail(ctx, j.JobID, err.Error())
		return fmt.Errorf("ingest: upsert lexical index: %w", err)
	}

	return w.jobStore.Complete(ctx, j.JobID, job.Result{
		ChunksCreated:       len(chunks),
		EmbeddingsGenerated: len(vectors),
	})
}
