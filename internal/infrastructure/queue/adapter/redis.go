package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/port"
)

const (
	defaultPendingKey  = "chat:message_queue"
	defaultInFlightKey = "chat:message_processing"
)

// RedisQueue is the durable queue backend. Pending items live in a Redis
// list; dequeueing moves the item atomically to an in-flight list (LMOVE),
// so a crash mid-processing leaves it recoverable rather than lost.
// MarkProcessed removes the in-flight copy once the dispatcher is done
// with the item.
type RedisQueue struct {
	client      *redis.Client
	pendingKey  string
	inFlightKey string
}

// NewRedisQueue wraps an already-connected client. Key names default to the
// chat:message_queue / chat:message_processing pair.
func NewRedisQueue(client *redis.Client) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redisqueue: nil client")
	}
	return &RedisQueue{
		client:      client,
		pendingKey:  defaultPendingKey,
		inFlightKey: defaultInFlightKey,
	}, nil
}

// Ensure interface is satisfied
var _ port.Store = (*RedisQueue)(nil)

func (q *RedisQueue) Enqueue(ctx context.Context, item port.Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redisqueue: marshal item %s: %w", item.Message.ID, err)
	}
	if err := q.client.LPush(ctx, q.pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("redisqueue: enqueue %s: %w", item.Message.ID, err)
	}
	return nil
}

func (q *RedisQueue) EnqueueBulk(ctx context.Context, items []port.Item) error {
	if len(items) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(items))
	for _, item := range items {
		p, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("redisqueue: marshal item %s: %w", item.Message.ID, err)
		}
		payloads = append(payloads, p)
	}
	if err := q.client.LPush(ctx, q.pendingKey, payloads...).Err(); err != nil {
		return fmt.Errorf("redisqueue: bulk enqueue %d items: %w", len(items), err)
	}
	return nil
}

func (q *RedisQueue) DequeueOne(ctx context.Context) (*port.Item, error) {
	raw, err := q.client.LMove(ctx, q.pendingKey, q.inFlightKey, "RIGHT", "LEFT").Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisqueue: dequeue: %w", err)
	}
	item, err := q.decode(raw)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *RedisQueue) DequeueBatch(ctx context.Context, max int) ([]port.Item, error) {
	if max <= 0 {
		return nil, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, max)
	for i := 0; i < max; i++ {
		cmds = append(cmds, pipe.LMove(ctx, q.pendingKey, q.inFlightKey, "RIGHT", "LEFT"))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redisqueue: batch dequeue: %w", err)
	}

	var items []port.Item
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err == redis.Nil {
			break // queue drained
		}
		if err != nil {
			return items, fmt.Errorf("redisqueue: batch dequeue: %w", err)
		}
		item, err := q.decode(raw)
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *RedisQueue) MarkProcessed(ctx context.Context, item port.Item) error {
	payload := item.Receipt
	if payload == nil {
		var err error
		payload, err = json.Marshal(item)
		if err != nil {
			return fmt.Errorf("redisqueue: marshal item %s: %w", item.Message.ID, err)
		}
	}
	if err := q.client.LRem(ctx, q.inFlightKey, 1, payload).Err(); err != nil {
		return fmt.Errorf("redisqueue: mark processed %s: %w", item.Message.ID, err)
	}
	return nil
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: size: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.pendingKey, q.inFlightKey).Err(); err != nil {
		return fmt.Errorf("redisqueue: clear: %w", err)
	}
	return nil
}

// decode keeps the raw payload as the receipt so MarkProcessed removes the
// exact in-flight bytes even after the dispatcher mutates the envelope.
func (q *RedisQueue) decode(raw []byte) (port.Item, error) {
	var item port.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return port.Item{}, fmt.Errorf("redisqueue: decode item: %w", err)
	}
	item.Receipt = raw
	return item, nil
}
