package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisTopic is the Redis pub/sub channel that carries hub frames.
const DefaultRedisTopic = "blueledger:realtime"

// RedisPublisher publishes frames to Redis. Every instance running
// Hub.RunRedisBridge on the same topic delivers them to its local clients.
type RedisPublisher struct {
	client *redis.Client
	topic  string
}

func NewRedisPublisher(client *redis.Client, topic string) *RedisPublisher {
	if topic == "" {
		topic = DefaultRedisTopic
	}
	return &RedisPublisher{client: client, topic: topic}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	frame, err := encode(channel, event, payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.topic, frame).Err(); err != nil {
		return fmt.Errorf("redis publish %s to %s: %w", event, channel, err)
	}
	return nil
}

// RunRedisBridge relays frames from the Redis topic to local subscribers
// until ctx is cancelled.
func (h *Hub) RunRedisBridge(ctx context.Context, client *redis.Client, topic string) error {
	if topic == "" {
		topic = DefaultRedisTopic
	}
	sub := client.Subscribe(ctx, topic)
	defer sub.Close()

	// Wait for the subscription to be confirmed before relaying.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil || msg.Channel == "" {
				h.logger.Warn("discarding malformed realtime frame", "topic", topic, "error", err)
				continue
			}
			if err := h.deliver(msg.Channel, []byte(m.Payload)); err != nil {
				return nil
			}
		}
	}
}

// ParseRedisURL builds a client from a redis:// URL.
func ParseRedisURL(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
