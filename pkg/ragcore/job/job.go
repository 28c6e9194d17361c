// Package job is the durable unit of ingestion work: a Document upload
// that the Ingestion Worker consumes at least once. Grounded on the
// teacher's pkg/nats publisher/subscriber for the queue side and on
// gorm.io/gorm for the status/progress store, the way the teacher
// persists domain state through repository structs.
package job

import (
	"context"
	"time"
)

// Kind distinguishes job payloads; only DocumentUpload exists today.
type Kind string

const KindDocumentUpload Kind = "document_upload"

// Status is the job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Result is the terminal payload of a completed ingestion job.
type Result struct {
	ChunksCreated       int `json:"chunks_created"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
}

// Job is the persisted record spec.md §4.9 tracks across retries.
type Job struct {
	JobID      string    `json:"job_id"`
	TenantID   string    `json:"tenant_id"`
	Kind       Kind      `json:"kind"`
	DocumentID string    `json:"document_id"`
	RawText    string    `json:"raw_text"`
	Filename   string    `json:"filename"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	Result     *Result   `json:"result,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists job records so status can be polled independently of
// the queue that delivers the work.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress float64) error
	Complete(ctx context.Context, jobID string, result Result) error
	Fail(ctx context.Context, jobID string, errMsg string) error
}

// Queue is the at-least-once delivery contract. Handler must Ack (err
// nil) or Nak (err non-nil) to control redelivery; the worker is
// responsible for idempotent handling under replay.
type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	Consume(ctx context.Context, durableName string, handler func(ctx context.Context, j Job) error) error
}
