package adapter

import (
	"context"
	"sync"

	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/port"
)

// MemoryQueue is the in-process queue backend: a mutex-guarded FIFO with
// immediate visibility between producers and the draining dispatcher.
// Items are lost on process exit; the Redis backend is the durable option.
type MemoryQueue struct {
	mu    sync.Mutex
	items []port.Item
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Ensure interface is satisfied
var _ port.Store = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(_ context.Context, item port.Item) error {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) EnqueueBulk(_ context.Context, items []port.Item) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) DequeueOne(_ context.Context) (*port.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return &item, nil
}

func (q *MemoryQueue) DequeueBatch(_ context.Context, max int) ([]port.Item, error) {
	if max <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil, nil
	}
	batch := make([]port.Item, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch, nil
}

// MarkProcessed is a no-op: once dequeued, an item has already left
// in-process memory.
func (q *MemoryQueue) MarkProcessed(_ context.Context, _ port.Item) error {
	return nil
}

func (q *MemoryQueue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *MemoryQueue) Clear(_ context.Context) error {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	return nil
}
