package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
)

// PgDeadLetterRepository stores terminally failed messages in
// chat.dead_letter so operators can inspect and replay them. The message id
// is the primary key, which keeps the record exactly-once even if the
// dispatcher routes the same item twice.
type PgDeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewPgDeadLetterRepository(pool *pgxpool.Pool) *PgDeadLetterRepository {
	return &PgDeadLetterRepository{pool: pool}
}

func (r *PgDeadLetterRepository) Add(ctx context.Context, m chat.Message, attempts int, reason string) error {
	if r == nil || r.pool == nil {
		return errors.New("PgDeadLetterRepository: nil pool")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat.dead_letter (
			message_id, sender_id, receiver_id, conversation_id,
			message_content, message_type, reply_to_message_id,
			attempts, reason, message_created_at, failed_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (message_id) DO NOTHING
	`, m.ID, m.SenderID, m.ReceiverID, m.ConversationID,
		m.Content, m.Type, m.ReplyToMessageID,
		attempts, reason, m.CreatedAt, time.Now().UTC())
	return err
}
