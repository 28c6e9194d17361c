package job

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore and MemoryQueue back local development and tests without a
// live Postgres/NATS pair, mirroring vectorindex.MemoryStore's role for
// the vector index.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.JobID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job.Get: job %s not found", jobID)
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job.UpdateProgress: job %s not found", jobID)
	}
	j.Progress = progress
	j.Status = StatusProcessing
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, jobID string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job.Complete: job %s not found", jobID)
	}
	j.Status = StatusCompleted
	j.Progress = 1.0
	res := result
	j.Result = &res
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, jobID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job.Fail: job %s not found", jobID)
	}
	j.Status = StatusFailed
	j.Error = errMsg
	j.UpdatedAt = time.Now()
	return nil
}

// MemoryQueue is an unbuffered-delivery, at-least-once-in-spirit Queue:
// it redelivers to the same process on Nak, which is sufficient for
// tests exercising idempotent-replay behavior.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, j)
	return nil
}

// Consume drains the queue once synchronously; a handler error requeues
// the item at the back, mimicking Nak-triggered redelivery, and ends this
// drain without returning the handler's error.
func (q *MemoryQueue) Consume(ctx context.Context, durableName string, handler func(ctx context.Context, j Job) error) error {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		j := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := handler(ctx, j); err != nil {
			q.mu.Lock()
			q.items = append(q.items, j)
			q.mu.Unlock()
			return nil
		}
	}
}
