package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/event"
)

const defaultChannelPrefix = "events:"

// RedisPublisher implements event.Bus using Redis Pub/Sub.
// Each event is published as JSON on the channel prefix+name.
type RedisPublisher struct {
	client        *redis.Client
	channelPrefix string
	logger        *zap.Logger
}

// NewRedisPublisher creates a RedisPublisher on client
func NewRedisPublisher(client *redis.Client, opts ...Option) *RedisPublisher {
	o := newOptions(opts)
	return &RedisPublisher{
		client:        client,
		channelPrefix: o.channelPrefix,
		logger:        o.logger,
	}
}

// Publish implements event.Bus
func (p *RedisPublisher) Publish(ctx context.Context, events ...event.DomainEvent) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		channel := p.channelPrefix + e.Name
		if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
			return fmt.Errorf("failed to publish event to Redis: %w", err)
		}

		p.logger.Debug("event published",
			zap.String("event_id", e.Metadata.ID.String()),
			zap.String("event", e.Name),
			zap.String("aggregate_id", e.AggregateID),
			zap.String("channel", channel),
		)
	}
	return nil
}

// RedisSubscriber passes events published by a RedisPublisher to a handler.
type RedisSubscriber struct {
	pubsub        *redis.PubSub
	channelPrefix string
	logger        *zap.Logger
}

// NewRedisSubscriber subscribes to the channels of the given event names, or to every
// channel under the prefix when no name is given. The subscription is confirmed before it returns.
func NewRedisSubscriber(ctx context.Context, client *redis.Client, names []string, opts ...Option) (*RedisSubscriber, error) {
	o := newOptions(opts)

	var pubsub *redis.PubSub
	if len(names) == 0 {
		pubsub = client.PSubscribe(ctx, o.channelPrefix+"*")
	} else {
		channels := make([]string, 0, len(names))
		for _, name := range names {
			channels = append(channels, o.channelPrefix+name)
		}
		pubsub = client.Subscribe(ctx, channels...)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return &RedisSubscriber{pubsub: pubsub, channelPrefix: o.channelPrefix, logger: o.logger}, nil
}

// Run delivers messages to h until ctx is done or the subscriber is closed.
// Undecodable messages and handler failures are logged and skipped.
func (s *RedisSubscriber) Run(ctx context.Context, h event.Handler) error {
	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to receive message: %w", err)
		}

		var e event.DomainEvent
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			s.logger.Error("failed to unmarshal event",
				zap.String("channel", msg.Channel),
				zap.Error(err),
			)
			continue
		}
		if err := h.Handle(ctx, e); err != nil {
			s.logger.Error("event handler failed",
				zap.String("event", e.Name),
				zap.String("aggregate_id", e.AggregateID),
				zap.Error(err),
			)
		}
	}
}

// Close ends the subscription
func (s *RedisSubscriber) Close() error {
	return s.pubsub.Close()
}
