package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	id             string
	body           []byte
	receipt        string
	receiveCount   int
	invisibleUntil time.Time
}

// MemoryQueue is an in-process Queue with SQS-like semantics: a visibility
// timeout per receive, a max receive count, and an optional dead-letter
// queue messages move to once the budget is exhausted.
type MemoryQueue struct {
	mu sync.Mutex

	items           []*memoryItem
	visibility      time.Duration
	maxReceiveCount int
	deadLetter      *MemoryQueue
	pollInterval    time.Duration
	clock           func() time.Time
}

// MemoryQueueOption tweaks a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithDeadLetter routes messages exceeding maxReceiveCount to dlq.
func WithDeadLetter(dlq *MemoryQueue, maxReceiveCount int) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.deadLetter = dlq
		q.maxReceiveCount = maxReceiveCount
	}
}

// WithClock substitutes the time source, letting tests expire visibility
// timeouts without sleeping.
func WithClock(clock func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) { q.clock = clock }
}

func NewMemoryQueue(visibility time.Duration, opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		visibility:   visibility,
		pollInterval: 10 * time.Millisecond,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Send(ctx context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, &memoryItem{
		id:   uuid.NewString(),
		body: append([]byte(nil), body...),
	})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	deadline := q.clock().Add(wait)
	for {
		msgs := q.receiveVisible(max)
		if len(msgs) > 0 {
			return msgs, nil
		}
		if !q.clock().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *MemoryQueue) receiveVisible(max int) []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	var out []*Message
	kept := q.items[:0]

	for _, it := range q.items {
		if len(out) >= max || now.Before(it.invisibleUntil) {
			kept = append(kept, it)
			continue
		}
		// Budget exhausted: the message has already been delivered
		// maxReceiveCount times without a delete.
		if q.deadLetter != nil && it.receiveCount >= q.maxReceiveCount {
			q.deadLetter.mu.Lock()
			q.deadLetter.items = append(q.deadLetter.items, &memoryItem{id: it.id, body: it.body})
			q.deadLetter.mu.Unlock()
			continue
		}
		it.receiveCount++
		it.receipt = uuid.NewString()
		it.invisibleUntil = now.Add(q.visibility)
		out = append(out, &Message{
			ID:           it.id,
			Body:         append([]byte(nil), it.body...),
			Receipt:      it.receipt,
			ReceiveCount: it.receiveCount,
		})
		kept = append(kept, it)
	}
	q.items = kept
	return out
}

func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.receipt == receipt {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	// Receipt expired or already deleted; redelivery handles the rest.
	return nil
}

// Len reports how many messages are currently stored, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
