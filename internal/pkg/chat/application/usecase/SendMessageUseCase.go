package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/port"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/dispatch"
	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/reliability"
)

// Optimistic event names pushed before the message is persisted.
const (
	EventReceiveMessage = "ReceiveMessage"
	EventMessageSent    = "MessageSent"
)

// SendMessageInput carries the data needed to send a new message.
type SendMessageInput struct {
	SenderID         string
	ReceiverID       string
	Content          string
	ReplyToMessageID *string
}

// PendingPayload mirrors the delivery payload with status "pending"; sender
// display fields are not known until the dispatcher persists the message.
type PendingPayload struct {
	MessageID        string    `json:"messageId"`
	SenderID         string    `json:"senderId"`
	ReceiverID       string    `json:"receiverId"`
	Content          string    `json:"content"`
	MessageType      string    `json:"messageType"`
	ReplyToMessageID *string   `json:"replyToMessageId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Status           string    `json:"status"`
}

// SendMessageUseCase is the producer side of the pipeline: it assigns the
// message its id, enqueues it for asynchronous delivery, and pushes an
// optimistic "pending" event to both parties. Enqueueing is guarded by a
// circuit breaker so a dead queue backend fails fast instead of piling up.
type SendMessageUseCase struct {
	queue   port.Store
	sink    dispatch.NotificationSink
	breaker *reliability.CircuitBreaker
	logger  *slog.Logger
}

func NewSendMessageUseCase(queue port.Store, sink dispatch.NotificationSink, logger *slog.Logger) *SendMessageUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendMessageUseCase{
		queue:   queue,
		sink:    sink,
		breaker: reliability.NewCircuitBreaker(5, time.Minute),
		logger:  logger,
	}
}

// Execute enqueues the message and returns it immediately. A nil error means
// the hand-off succeeded; durability follows asynchronously and the eventual
// outcome surfaces only through delivery notifications.
func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*chat.Message, error) {
	msg, err := chat.NewOutgoingMessage(in.SenderID, in.ReceiverID, in.Content, in.ReplyToMessageID)
	if err != nil {
		return nil, err
	}

	err = uc.breaker.Execute(func() error {
		return uc.queue.Enqueue(ctx, port.NewItem(*msg))
	})
	if err != nil {
		if errors.Is(err, reliability.ErrCircuitOpen) {
			uc.logger.Warn("rejecting message, queue circuit open", "senderId", in.SenderID)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	uc.pushPending(msg)

	uc.logger.Info("message queued for processing", "messageId", msg.ID)
	return msg, nil
}

func (uc *SendMessageUseCase) pushPending(m *chat.Message) {
	payload := PendingPayload{
		MessageID:        m.ID,
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		Content:          m.Content,
		MessageType:      m.Type,
		ReplyToMessageID: m.ReplyToMessageID,
		CreatedAt:        m.CreatedAt,
		Status:           "pending",
	}

	if err := uc.sink.PushToUser(m.ReceiverID, EventReceiveMessage, payload); err != nil {
		uc.logger.Warn("optimistic receive push failed", "messageId", m.ID, "error", err)
	}
	if err := uc.sink.PushToUser(m.SenderID, EventMessageSent, payload); err != nil {
		uc.logger.Warn("optimistic sent push failed", "messageId", m.ID, "error", err)
	}
}
