package port

import (
	"context"
	"time"

	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
)

// Item is the queue envelope around a message. Transport bookkeeping lives
// here, never inside the message content: Attempts counts cycle-level
// delivery failures and is mutated only by the dispatcher while it owns the
// dequeued item.
type Item struct {
	Message    chat.Message `json:"message"`
	Attempts   int          `json:"attempts"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`

	// Receipt is set by durable backends on dequeue and identifies the
	// in-flight copy for MarkProcessed. Never serialized.
	Receipt []byte `json:"-"`
}

// NewItem wraps a message for its first enqueue.
func NewItem(m chat.Message) Item {
	return Item{Message: m, EnqueuedAt: time.Now().UTC()}
}

// Store is a FIFO of pending message deliveries. Implementations must be safe
// for concurrent producers and a concurrently draining dispatcher without
// external locking. An empty queue is a nil/empty result, not an error;
// errors signal backend unavailability only.
type Store interface {
	// Enqueue appends one item to the tail.
	Enqueue(ctx context.Context, item Item) error

	// EnqueueBulk appends items in order. It is not atomic across items;
	// partial success surfaces only through the backend's own batch error.
	EnqueueBulk(ctx context.Context, items []Item) error

	// DequeueOne removes and returns the head item, or nil when empty.
	DequeueOne(ctx context.Context) (*Item, error)

	// DequeueBatch removes up to max items in FIFO order without waiting
	// for more to arrive.
	DequeueBatch(ctx context.Context, max int) ([]Item, error)

	// MarkProcessed confirms that a dequeued item left the pipeline
	// (persisted, re-enqueued as a new item, or dead-lettered). Durable
	// backends drop the in-flight copy here; it must be called exactly
	// once for every dequeued item.
	MarkProcessed(ctx context.Context, item Item) error

	// Size reports the approximate number of pending items.
	Size(ctx context.Context) (int, error)

	// Clear drops all pending items. Test and ops resets only.
	Clear(ctx context.Context) error
}
