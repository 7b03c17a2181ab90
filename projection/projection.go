// Package projection keeps read models up to date from committed events.
package projection

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/event"
	"github.com/cannahum/eventsourcing-lite/eventstore"
)

// Projection updates a read model from one event
type Projection interface {
	Project(ctx context.Context, e event.DomainEvent) error
}

// ProjectionFunc adapts a function to a Projection
type ProjectionFunc func(ctx context.Context, e event.DomainEvent) error

// Project implements Projection
func (f ProjectionFunc) Project(ctx context.Context, e event.DomainEvent) error {
	return f(ctx, e)
}

// Rebuild replays events through p in order and stops at the first failure.
// The read model is expected to be empty beforehand.
func Rebuild(ctx context.Context, p Projection, events []event.DomainEvent) error {
	for i, e := range events {
		if err := p.Project(ctx, e); err != nil {
			return fmt.Errorf("rebuild stopped at event %d (%s of %s): %w", i, e.Name, e.AggregateID, err)
		}
	}
	return nil
}

// Manager fans every event out to its projections in registration order.
type Manager struct {
	mu          sync.RWMutex
	projections []Projection
	logger      *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger of the manager
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager without projections
func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register appends p to the fan-out list
func (m *Manager) Register(p Projection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections = append(m.projections, p)
}

// Len returns the number of registered projections
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.projections)
}

// ProjectEvent passes e to every projection in registration order. The first failure is
// returned as is and the remaining projections are skipped; projections already updated
// for e are not rolled back.
func (m *Manager) ProjectEvent(ctx context.Context, e event.DomainEvent) error {
	m.mu.RLock()
	projections := make([]Projection, len(m.projections))
	copy(projections, m.projections)
	m.mu.RUnlock()

	for i, p := range projections {
		if err := p.Project(ctx, e); err != nil {
			m.logger.Warn("projection failed",
				zap.Int("projection", i),
				zap.Int("skipped", len(projections)-i-1),
				zap.String("event", e.Name),
				zap.String("aggregate_id", e.AggregateID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// Handle implements event.Handler so a Manager can subscribe to an event bus
func (m *Manager) Handle(ctx context.Context, e event.DomainEvent) error {
	return m.ProjectEvent(ctx, e)
}

// Rebuild replays events through ProjectEvent in order
func (m *Manager) Rebuild(ctx context.Context, events []event.DomainEvent) error {
	for i, e := range events {
		if err := m.ProjectEvent(ctx, e); err != nil {
			return fmt.Errorf("rebuild stopped at event %d (%s of %s): %w", i, e.Name, e.AggregateID, err)
		}
	}
	return nil
}

// RebuildFromStore replays the full stream of each aggregate from store
func (m *Manager) RebuildFromStore(ctx context.Context, store eventstore.EventStore, aggregateIDs ...string) error {
	for _, id := range aggregateIDs {
		events, err := store.LoadEvents(ctx, id, nil)
		if err != nil {
			return fmt.Errorf("failed to load events for %s: %w", id, err)
		}
		if err := m.Rebuild(ctx, events); err != nil {
			return err
		}
		m.logger.Info("rebuilt read models",
			zap.String("aggregate_id", id),
			zap.Int("events_applied", len(events)),
		)
	}
	return nil
}

type handler struct {
	p Projection
}

func (h handler) Handle(ctx context.Context, e event.DomainEvent) error {
	return h.p.Project(ctx, e)
}

// AsHandler exposes p as an event.Handler for an event bus
func AsHandler(p Projection) event.Handler {
	return handler{p: p}
}
