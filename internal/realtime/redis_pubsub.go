package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// EventsChannel is the Redis channel all instances share for ledger events.
	EventsChannel  = "basepoll:events"
	publishTimeout = 5 * time.Second
)

// RedisPubSub implements Broker using Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for ledger events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishEvent publishes an encoded WSMessage to the shared channel.
func (r *RedisPubSub) PublishEvent(raw []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, EventsChannel, raw).Err()
}

// Subscribe calls handler for every message on the shared channel until ctx is done.
func (r *RedisPubSub) Subscribe(ctx context.Context, handler func(raw []byte)) error {
	pubsub := r.client.Subscribe(ctx, EventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	r.logger.Info("subscribed to ledger events", zap.String("channel", EventsChannel))
	return nil
}
