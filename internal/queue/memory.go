package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker for LOCAL=1 development and tests,
// with the same reservation/backoff/DLQ semantics as AzureBroker.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

// NewMemoryBroker returns an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: map[string]*memQueue{}}
}

type memEntry struct {
	job         Job
	visibleAt   time.Time
	reservation string
	index       int
}

type memEntryHeap []*memEntry

func (h memEntryHeap) Len() int            { return len(h) }
func (h memEntryHeap) Less(i, j int) bool  { return h[i].visibleAt.Before(h[j].visibleAt) }
func (h memEntryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *memEntryHeap) Push(x any)         { e := x.(*memEntry); e.index = len(*h); *h = append(*h, e) }
func (h *memEntryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type memQueue struct {
	mu          sync.Mutex
	pending     memEntryHeap
	reserved    map[string]*memEntry // reservation token -> entry
	deadLetters []DeadLetter
}

func (b *MemoryBroker) queue(name string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{reserved: map[string]*memEntry{}}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Enqueue(_ context.Context, queueName string, job Job, opts EnqueueOptions) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	} else if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	job.Backoff = opts.Backoff

	q := b.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.pending, &memEntry{job: job, visibleAt: time.Now().Add(time.Duration(opts.DelayMs) * time.Millisecond)})
	return job.ID, nil
}

func (b *MemoryBroker) Reserve(_ context.Context, queueName string, max int, visibility time.Duration) ([]Job, error) {
	q := b.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	// Leases that expired without ack/nack become visible again, as a
	// redelivery.
	for token, e := range q.reserved {
		if !e.visibleAt.After(now) {
			delete(q.reserved, token)
			e.job.Attempt++
			heap.Push(&q.pending, e)
		}
	}
	var jobs []Job
	for len(jobs) < max && q.pending.Len() > 0 && q.pending[0].visibleAt.Before(now) {
		e := heap.Pop(&q.pending).(*memEntry)
		token := uuid.NewString()
		e.reservation = token
		e.visibleAt = now.Add(visibility)
		q.reserved[token] = e
		e.job.popReceipt = token
		jobs = append(jobs, e.job)
	}
	return jobs, nil
}

func (b *MemoryBroker) Renew(_ context.Context, queueName string, job Job, visibility time.Duration) (Job, error) {
	q := b.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.reserved[job.popReceipt]; ok {
		e.visibleAt = time.Now().Add(visibility)
	}
	return job, nil
}

func (b *MemoryBroker) Ack(_ context.Context, queueName string, job Job) error {
	q := b.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.reserved, job.popReceipt)
	return nil
}

func (b *MemoryBroker) Nack(_ context.Context, queueName string, job Job, cause error) error {
	q := b.queue(queueName)
	q.mu.Lock()
	delete(q.reserved, job.popReceipt)
	q.mu.Unlock()

	if job.Attempt >= job.MaxAttempts {
		q.mu.Lock()
		q.deadLetters = append(q.deadLetters, DeadLetter{Job: job, LastError: errString(cause), QueuedAt: time.Now().UTC()})
		q.mu.Unlock()
		return nil
	}
	delay := job.Backoff.Delay(job.Attempt)
	job.Attempt++
	_, err := b.Enqueue(context.Background(), queueName, job, EnqueueOptions{DelayMs: int(delay.Milliseconds()), MaxAttempts: job.MaxAttempts, Backoff: job.Backoff})
	return err
}

func (b *MemoryBroker) ListDeadLetters(_ context.Context, queueName string) ([]DeadLetter, error) {
	q := b.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out, nil
}
