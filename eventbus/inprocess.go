// Package eventbus delivers committed events to handlers, in process or through a broker.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/event"
)

type subscription struct {
	name    string // empty for every event
	handler event.Handler
}

// InProcess delivers events synchronously to handlers registered in the same process.
// Delivery follows publication order, and for one event, subscription order.
type InProcess struct {
	mu            sync.RWMutex
	subscriptions []subscription
	logger        *zap.Logger
}

// Option configures the buses of this package
type Option func(*options)

type options struct {
	logger        *zap.Logger
	channelPrefix string
}

// WithLogger sets the logger of a bus
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithChannelPrefix sets the Redis channel prefix, "events:" by default
func WithChannelPrefix(prefix string) Option {
	return func(o *options) {
		o.channelPrefix = prefix
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), channelPrefix: defaultChannelPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewInProcess creates an InProcess bus without subscribers
func NewInProcess(opts ...Option) *InProcess {
	return &InProcess{logger: newOptions(opts).logger}
}

// Subscribe registers h for events called name
func (b *InProcess) Subscribe(name string, h event.Handler) error {
	if name == "" {
		return errors.New("event name cannot be empty")
	}
	return b.subscribe(name, h)
}

// SubscribeAll registers h for every event
func (b *InProcess) SubscribeAll(h event.Handler) error {
	return b.subscribe("", h)
}

func (b *InProcess) subscribe(name string, h event.Handler) error {
	if h == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{name: name, handler: h})
	return nil
}

// Publish implements event.Bus. The first handler error stops delivery and is returned.
func (b *InProcess) Publish(ctx context.Context, events ...event.DomainEvent) error {
	b.mu.RLock()
	subscriptions := make([]subscription, len(b.subscriptions))
	copy(subscriptions, b.subscriptions)
	b.mu.RUnlock()

	for _, e := range events {
		for _, s := range subscriptions {
			if s.name != "" && s.name != e.Name {
				continue
			}
			if err := s.handler.Handle(ctx, e); err != nil {
				b.logger.Warn("event handler failed",
					zap.String("event", e.Name),
					zap.String("aggregate_id", e.AggregateID),
					zap.Error(err),
				)
				return fmt.Errorf("handler for %s failed: %w", e.Name, err)
			}
		}
	}
	return nil
}
