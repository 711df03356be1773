package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const defaultQueueCapacity = 256

// Deduplication policies honored by the memory queue. Any other value
// behaves like DedupDrop.
const (
	DedupDrop    = "drop"
	DedupReplace = "replace"
)

// MemoryQueue is the in-process maintenance queue, speaking the go-job queue
// contracts so the gojob adapters can bridge it to the runtime. A message
// whose idempotency key matches an entry that is pending or in flight is
// deduplicated: dropped, or swapped in place under DedupReplace. Terminal
// nacks land in the dead-letter list.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []*queueEntry
	keys     map[string]struct{}
	dead     []*job.ExecutionMessage
	capacity int
	wake     chan struct{}
}

type queueEntry struct {
	msg     *job.ExecutionMessage
	attempt int
}

type MemoryQueueOption func(*MemoryQueue)

// WithCapacity bounds the number of pending entries.
func WithCapacity(capacity int) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		keys:     map[string]struct{}{},
		capacity: defaultQueueCapacity,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("jobs: queue is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("jobs: job id is required")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	q.mu.Lock()
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		if _, exists := q.keys[key]; exists {
			if strings.TrimSpace(string(msg.DedupPolicy)) == DedupReplace {
				q.replacePendingLocked(key, msg)
			}
			q.mu.Unlock()
			return nil
		}
	}
	if q.capacity > 0 && len(q.pending) >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("jobs: queue is full")
	}
	if key != "" {
		q.keys[key] = struct{}{}
	}
	q.pending = append(q.pending, &queueEntry{msg: cloneExecutionMessage(msg), attempt: 1})
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue blocks until an entry is available or the context ends.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("jobs: queue is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			entry := q.pending[0]
			q.pending = q.pending[1:]
			remaining := len(q.pending)
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return &memoryDelivery{queue: q, entry: entry}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len reports the number of pending entries.
func (q *MemoryQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns a copy of the terminally nacked messages.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.ExecutionMessage, 0, len(q.dead))
	for _, msg := range q.dead {
		out = append(out, cloneExecutionMessage(msg))
	}
	return out
}

func (q *MemoryQueue) replacePendingLocked(key string, msg *job.ExecutionMessage) {
	for _, entry := range q.pending {
		if strings.TrimSpace(entry.msg.IdempotencyKey) == key {
			entry.msg = cloneExecutionMessage(msg)
			return
		}
	}
}

func (q *MemoryQueue) requeue(entry *queueEntry, delay time.Duration) {
	if q == nil || entry == nil {
		return
	}
	entry.attempt++
	if delay > 0 {
		time.AfterFunc(delay, func() { q.push(entry) })
		return
	}
	q.push(entry)
}

func (q *MemoryQueue) push(entry *queueEntry) {
	q.mu.Lock()
	q.pending = append(q.pending, entry)
	q.mu.Unlock()
	q.signal()
}

func (q *MemoryQueue) deadLetter(msg *job.ExecutionMessage) {
	q.mu.Lock()
	q.dead = append(q.dead, msg)
	q.mu.Unlock()
	q.releaseKey(msg.IdempotencyKey)
}

func (q *MemoryQueue) releaseKey(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.keys, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	entry *queueEntry

	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	if d == nil || d.entry == nil {
		return nil
	}
	return d.entry.msg
}

// Attempt reports how many times this entry has been delivered.
func (d *memoryDelivery) Attempt() int {
	if d == nil || d.entry == nil {
		return 0
	}
	return d.entry.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	if d == nil || d.queue == nil || d.entry == nil {
		return fmt.Errorf("jobs: delivery is not configured")
	}
	if !d.settle() {
		return fmt.Errorf("jobs: delivery already settled")
	}
	d.queue.releaseKey(d.entry.msg.IdempotencyKey)
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if d == nil || d.queue == nil || d.entry == nil {
		return fmt.Errorf("jobs: delivery is not configured")
	}
	if !d.settle() {
		return fmt.Errorf("jobs: delivery already settled")
	}
	switch {
	case opts.DeadLetter:
		d.queue.deadLetter(d.entry.msg)
	case opts.Requeue:
		d.queue.requeue(d.entry, opts.Delay)
	default:
		d.queue.releaseKey(d.entry.msg.IdempotencyKey)
	}
	return nil
}

func (d *memoryDelivery) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}

func cloneExecutionMessage(msg *job.ExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	out := *msg
	if len(msg.Parameters) > 0 {
		out.Parameters = make(map[string]any, len(msg.Parameters))
		for key, value := range msg.Parameters {
			out.Parameters[key] = value
		}
	}
	return &out
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
