package repository

import (
	"context"

	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
)

// ChatRepository is the persistence contract consumed by the dispatcher and
// the producer side of the pipeline.
type ChatRepository interface {
	// GetOrCreateConversation resolves the single conversation for the
	// unordered (userA, userB) pair, creating it if absent. Idempotent:
	// concurrent calls for the same pair, in either order, converge to
	// the same conversation.
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*chat.Conversation, error)

	// SaveMessage appends a message. Re-saving the same message id is a
	// no-op, so a retried delivery never produces a duplicate row.
	SaveMessage(ctx context.Context, m chat.Message) error

	// UpdateConversation advances the last-message pointer and timestamps.
	UpdateConversation(ctx context.Context, c chat.Conversation) error

	// GetMessageByID re-reads a persisted message with the sender's
	// display fields attached. Returns nil when not found.
	GetMessageByID(ctx context.Context, messageID string) (*chat.PersistedMessage, error)
}

// DeadLetterStore records messages that exhausted their delivery attempts.
// Each message id is recorded at most once.
type DeadLetterStore interface {
	Add(ctx context.Context, m chat.Message, attempts int, reason string) error
}
