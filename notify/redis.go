package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/poiesic/chatstore/storage"
)

// RedisPublisher is the subset of *redis.Client used by RedisSink.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each batch as one JSON document on a Pub/Sub channel.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

// NewRedisSink connects to the server at addr.
func NewRedisSink(addr, channel string) (*RedisSink, error) {
	if addr == "" || channel == "" {
		return nil, fmt.Errorf("%w: redis address and channel are required", ErrSinkRequired)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisSink{client: client, channel: channel}, nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client RedisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, batch storage.Batch) error {
	b, err := json.Marshal(NewBatchEnvelope(batch))
	if err != nil {
		return Permanent(fmt.Errorf("marshal batch %d: %w", batch.Sequence, err))
	}
	if err := s.client.Publish(ctx, s.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close closes the client when it owns a connection.
func (s *RedisSink) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
