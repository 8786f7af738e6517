package redis

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate length each stream is trimmed to.
const streamMaxLen int64 = 10000

// StreamEntry is one payload read back from a stream.
type StreamEntry struct {
	ID      string
	Payload []byte
}

// EventBus implements domain.EventBus on Redis streams.
type EventBus struct {
	c *Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{c: c}
}

// StreamAppend appends payload to stream with XADD, trimming to roughly
// streamMaxLen entries.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: b.c.key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := b.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// Recent returns up to count of the newest entries of stream, newest first.
func (b *EventBus) Recent(ctx context.Context, stream string, count int64) ([]StreamEntry, error) {
	msgs, err := b.c.rdb.XRevRangeN(ctx, b.c.key(stream), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	entries := make([]StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		var data []byte
		switch v := msg.Values["payload"].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		entries = append(entries, StreamEntry{ID: msg.ID, Payload: data})
	}
	return entries, nil
}

var _ domain.EventBus = (*EventBus)(nil)
