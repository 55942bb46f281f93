package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
)

type PgChatRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatRepository(pool *pgxpool.Pool) *PgChatRepository {
	return &PgChatRepository{pool: pool}
}

// sortPair orders a participant pair so (A,B) and (B,A) address the same
// conversation row.
func sortPair(a, b string) (low, high string) {
	if a > b {
		return b, a
	}
	return a, b
}

// GetOrCreateConversation stores the pair sorted so the unordered pair maps
// to one row; the upsert makes racing creates converge on the same id.
func (r *PgChatRepository) GetOrCreateConversation(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	if userA == "" || userB == "" {
		return nil, errors.New("PgChatRepository: both participants are required")
	}

	low, high := sortPair(userA, userB)

	now := time.Now().UTC()
	var c chat.Conversation
	err := r.pool.QueryRow(ctx, `
		INSERT INTO chat.conversation (conversation_id, participant_low, participant_high, conversation_created_at, conversation_updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (participant_low, participant_high)
		DO UPDATE SET participant_low = EXCLUDED.participant_low
		RETURNING conversation_id, last_message_id, last_message_at, conversation_created_at, conversation_updated_at
	`, uuid.NewString(), low, high, now).Scan(&c.ID, &c.LastMessageID, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PgChatRepository) SaveMessage(ctx context.Context, m chat.Message) error {
	if r == nil || r.pool == nil {
		return errors.New("PgChatRepository: nil pool")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat.message (
			message_id, conversation_id, sender_id, receiver_id,
			message_content, original_content, message_type,
			is_read, is_edited, is_deleted_by_sender, is_deleted_by_receiver,
			reply_to_message_id, message_created_at, message_updated_at, edited_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (message_id) DO NOTHING
	`, m.ID, m.ConversationID, m.SenderID, m.ReceiverID,
		m.Content, m.OriginalContent, m.Type,
		m.IsRead, m.IsEdited, m.IsDeletedBySender, m.IsDeletedByReceiver,
		m.ReplyToMessageID, m.CreatedAt, m.UpdatedAt, m.EditedAt)
	return err
}

func (r *PgChatRepository) UpdateConversation(ctx context.Context, c chat.Conversation) error {
	if r == nil || r.pool == nil {
		return errors.New("PgChatRepository: nil pool")
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE chat.conversation
		SET last_message_id = $2, last_message_at = $3, conversation_updated_at = $4
		WHERE conversation_id = $1
	`, c.ID, c.LastMessageID, c.LastMessageAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgChatRepository) GetMessageByID(ctx context.Context, messageID string) (*chat.PersistedMessage, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgChatRepository: nil pool")
	}
	var pm chat.PersistedMessage
	err := r.pool.QueryRow(ctx, `
		SELECT m.message_id, m.conversation_id, m.sender_id, m.receiver_id,
		       m.message_content, m.original_content, m.message_type,
		       m.is_read, m.is_edited, m.is_deleted_by_sender, m.is_deleted_by_receiver,
		       m.reply_to_message_id, m.message_created_at, m.message_updated_at, m.edited_at,
		       COALESCE(a.username, 'Unknown'), a.user_image
		FROM chat.message m
		LEFT JOIN chat.account a ON a.user_id = m.sender_id
		WHERE m.message_id = $1
	`, messageID).Scan(
		&pm.ID, &pm.ConversationID, &pm.SenderID, &pm.ReceiverID,
		&pm.Content, &pm.OriginalContent, &pm.Type,
		&pm.IsRead, &pm.IsEdited, &pm.IsDeletedBySender, &pm.IsDeletedByReceiver,
		&pm.ReplyToMessageID, &pm.CreatedAt, &pm.UpdatedAt, &pm.EditedAt,
		&pm.SenderName, &pm.SenderAvatar,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}
