package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/port"
	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
	repository "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/persistence/repository/port"
)

// Notification event names pushed to connected clients.
const (
	EventMessageDelivered = "MessageDelivered"
	EventMessageConfirmed = "MessageConfirmed"
)

// NotificationSink pushes a named event to one user's active connection.
// Delivery is best-effort; the dispatcher never retries on sink errors.
type NotificationSink interface {
	PushToUser(userID, event string, payload any) error
}

// DeliveryPayload is what clients receive when a message is persisted.
type DeliveryPayload struct {
	MessageID        string    `json:"messageId"`
	SenderID         string    `json:"senderId"`
	ReceiverID       string    `json:"receiverId"`
	Content          string    `json:"content"`
	MessageType      string    `json:"messageType"`
	ReplyToMessageID *string   `json:"replyToMessageId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	SenderName       string    `json:"senderName"`
	SenderAvatar     *string   `json:"senderAvatar,omitempty"`
	Status           string    `json:"status"`
}

// Dispatcher drains the message queue in batches and persists each item with
// bounded concurrency. Failed items re-enter the queue with exponential
// backoff until they exhaust their attempts and land in the dead-letter
// store. The loop survives every per-cycle error and stops only on context
// cancellation.
type Dispatcher struct {
	store   port.Store
	repo    repository.ChatRepository
	dlq     repository.DeadLetterStore
	sink    NotificationSink
	logger  *slog.Logger
	opts    Options
	backoff BackoffPolicy
}

func NewDispatcher(store port.Store, repo repository.ChatRepository, dlq repository.DeadLetterStore, sink NotificationSink, logger *slog.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Dispatcher{
		store:   store,
		repo:    repo,
		dlq:     dlq,
		sink:    sink,
		logger:  logger,
		opts:    opts,
		backoff: NewBackoffPolicy(opts.BackoffBase, opts.MaxAttempts),
	}
}

// Run drives the drain/process/reconcile loop until ctx is cancelled.
// It always returns nil; cancellation is a normal stop, not an error.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("message dispatcher started",
		"batchSize", d.opts.BatchSize,
		"maxConcurrency", d.opts.MaxConcurrency,
		"maxAttempts", d.opts.MaxAttempts,
	)

	for {
		if ctx.Err() != nil {
			d.logger.Info("message dispatcher stopped")
			return nil
		}

		if err := d.runCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Info("message dispatcher stopped")
				return nil
			}
			d.logger.Error("dispatch cycle failed", "error", err)
			if sleep(ctx, d.opts.ErrorCooldown) != nil {
				d.logger.Info("message dispatcher stopped")
				return nil
			}
			continue
		}

		if sleep(ctx, d.opts.CycleDelay) != nil {
			d.logger.Info("message dispatcher stopped")
			return nil
		}
	}
}

// runCycle performs one Draining -> Processing -> Reconciling pass. Only
// queue-backend failures escape; item-level failures are routed internally.
func (d *Dispatcher) runCycle(ctx context.Context) error {
	items, err := d.store.DequeueBatch(ctx, d.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("drain batch: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	d.logger.Info("processing message batch", "count", len(items))

	var (
		mu        sync.Mutex
		successes []port.Item
		failures  []port.Item
	)
	sem := make(chan struct{}, d.opts.MaxConcurrency)
	var wg sync.WaitGroup

	for i := range items {
		item := items[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				// Leave the item in-flight; a durable backend keeps
				// it recoverable across the shutdown.
				return
			}

			if err := d.processOne(ctx, &item); err != nil {
				if ctx.Err() != nil {
					return
				}
				mu.Lock()
				failures = append(failures, item)
				mu.Unlock()
				return
			}
			mu.Lock()
			successes = append(successes, item)
			mu.Unlock()
		}()
	}
	wg.Wait()

	d.logger.Info("batch completed", "success", len(successes), "failed", len(failures))

	for _, item := range successes {
		if err := d.store.MarkProcessed(ctx, item); err != nil {
			d.logger.Error("mark processed failed", "messageId", item.Message.ID, "error", err)
		}
	}

	if len(failures) > 0 {
		d.routeFailures(ctx, failures)
	}
	return nil
}

// processOne runs the delivery protocol with in-cycle retries. Persistence
// success is the sole success criterion; notification errors are only logged.
func (d *Dispatcher) processOne(ctx context.Context, item *port.Item) error {
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		lastErr = d.deliver(ctx, item)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Error("message delivery attempt failed",
			"messageId", item.Message.ID,
			"attempt", attempt,
			"error", lastErr,
		)
		if attempt < d.opts.MaxAttempts {
			if err := sleep(ctx, d.opts.AttemptDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("message %s failed after %d attempts: %w", item.Message.ID, d.opts.MaxAttempts, lastErr)
}

func (d *Dispatcher) deliver(ctx context.Context, item *port.Item) error {
	m := &item.Message

	conv, err := d.repo.GetOrCreateConversation(ctx, m.SenderID, m.ReceiverID)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("no conversation for %s and %s", m.SenderID, m.ReceiverID)
	}
	m.ConversationID = conv.ID

	if err := d.repo.SaveMessage(ctx, *m); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	conv.LastMessageID = &m.ID
	conv.LastMessageAt = &m.CreatedAt
	conv.UpdatedAt = time.Now().UTC()
	if err := d.repo.UpdateConversation(ctx, *conv); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	full, err := d.repo.GetMessageByID(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("reload message: %w", err)
	}
	if full == nil {
		return fmt.Errorf("message %s missing after save", m.ID)
	}

	d.notify(full)
	return nil
}

func (d *Dispatcher) notify(m *chat.PersistedMessage) {
	payload := DeliveryPayload{
		MessageID:        m.ID,
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		Content:          m.Content,
		MessageType:      m.Type,
		ReplyToMessageID: m.ReplyToMessageID,
		CreatedAt:        m.CreatedAt,
		SenderName:       m.SenderName,
		SenderAvatar:     m.SenderAvatar,
		Status:           "delivered",
	}

	if err := d.sink.PushToUser(m.ReceiverID, EventMessageDelivered, payload); err != nil {
		d.logger.Warn("delivered notification failed", "messageId", m.ID, "userId", m.ReceiverID, "error", err)
	}
	if err := d.sink.PushToUser(m.SenderID, EventMessageConfirmed, payload); err != nil {
		d.logger.Warn("confirmed notification failed", "messageId", m.ID, "userId", m.SenderID, "error", err)
	}
}

// routeFailures re-enqueues or dead-letters each failed item. Routing runs
// concurrently across items and waits for all of them; re-enqueue happens
// before the old in-flight copy is cleared, so a crash in between duplicates
// rather than loses.
func (d *Dispatcher) routeFailures(ctx context.Context, failures []port.Item) {
	var wg sync.WaitGroup
	for i := range failures {
		item := failures[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			if !d.backoff.ShouldRetry(item.Attempts) {
				d.deadLetter(ctx, item)
				return
			}

			delay := d.backoff.NextDelay(item.Attempts)
			if err := sleep(ctx, delay); err != nil {
				// Shutting down; durable backends recover the item
				// from the in-flight list on restart.
				return
			}

			retried := item
			retried.Attempts++
			retried.Receipt = nil
			if err := d.store.Enqueue(ctx, retried); err != nil {
				d.logger.Error("re-enqueue failed", "messageId", item.Message.ID, "error", err)
				return
			}
			if err := d.store.MarkProcessed(ctx, item); err != nil {
				d.logger.Error("mark processed failed", "messageId", item.Message.ID, "error", err)
			}
			d.logger.Warn("message re-queued for retry",
				"messageId", item.Message.ID,
				"attempt", retried.Attempts,
				"delay", delay,
			)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) deadLetter(ctx context.Context, item port.Item) {
	reason := fmt.Sprintf("exceeded %d delivery attempts", d.backoff.MaxAttempts)
	if d.dlq != nil {
		if err := d.dlq.Add(ctx, item.Message, item.Attempts, reason); err != nil {
			d.logger.Error("dead-letter store failed", "messageId", item.Message.ID, "error", err)
			return
		}
	}
	if err := d.store.MarkProcessed(ctx, item); err != nil {
		d.logger.Error("mark processed failed", "messageId", item.Message.ID, "error", err)
	}
	d.logger.Error("message dead-lettered",
		"messageId", item.Message.ID,
		"senderId", item.Message.SenderID,
		"receiverId", item.Message.ReceiverID,
		"attempts", item.Attempts,
	)
}

// sleep waits d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
