package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message type discriminators. Only "text" is produced today; the column is
// free-form to keep room for attachments and system notices.
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// Message is a direct message between two users. The id is assigned by the
// producer before the message is first enqueued and never changes afterwards.
// ConversationID may be empty until the dispatcher resolves it.
type Message struct {
	ID                  string     `json:"messageId" db:"message_id"`
	SenderID            string     `json:"senderId" db:"sender_id"`
	ReceiverID          string     `json:"receiverId" db:"receiver_id"`
	ConversationID      string     `json:"conversationId" db:"conversation_id"`
	Content             string     `json:"content" db:"message_content"`
	OriginalContent     *string    `json:"originalContent,omitempty" db:"original_content"`
	Type                string     `json:"messageType" db:"message_type"`
	IsRead              bool       `json:"isRead" db:"is_read"`
	IsEdited            bool       `json:"isEdited" db:"is_edited"`
	IsDeletedBySender   bool       `json:"isDeletedBySender" db:"is_deleted_by_sender"`
	IsDeletedByReceiver bool       `json:"isDeletedByReceiver" db:"is_deleted_by_receiver"`
	ReplyToMessageID    *string    `json:"replyToMessageId,omitempty" db:"reply_to_message_id"`
	CreatedAt           time.Time  `json:"createdAt" db:"message_created_at"`
	UpdatedAt           time.Time  `json:"updatedAt" db:"message_updated_at"`
	EditedAt            *time.Time `json:"editedAt,omitempty" db:"edited_at"`
}

// Conversation groups all messages between exactly two participants.
// Exactly one conversation exists per unordered pair of users.
type Conversation struct {
	ID            string     `db:"conversation_id"`
	LastMessageID *string    `db:"last_message_id"`
	LastMessageAt *time.Time `db:"last_message_at"`
	CreatedAt     time.Time  `db:"conversation_created_at"`
	UpdatedAt     time.Time  `db:"conversation_updated_at"`
}

// PersistedMessage is a message re-read from storage with the sender's
// display fields denormalized for client delivery.
type PersistedMessage struct {
	Message
	SenderName   string  `json:"senderName"`
	SenderAvatar *string `json:"senderAvatar,omitempty"`
}

var (
	ErrEmptyContent = errors.New("chat: message content is empty")
	ErrSameParty    = errors.New("chat: sender and receiver are the same user")
	ErrMissingParty = errors.New("chat: sender and receiver are required")
)

// NewOutgoingMessage builds a message ready for enqueueing. The id is
// generated here so it stays stable across queue retries and persistence.
func NewOutgoingMessage(senderID, receiverID, content string, replyToMessageID *string) (*Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, ErrMissingParty
	}
	if senderID == receiverID {
		return nil, ErrSameParty
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	now := time.Now().UTC()
	return &Message{
		ID:               uuid.NewString(),
		SenderID:         senderID,
		ReceiverID:       receiverID,
		Content:          content,
		Type:             MessageTypeText,
		ReplyToMessageID: replyToMessageID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
