package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/eventstore"
)

// Repository loads and saves one type of aggregate.
// It keeps a reference to the store associated with this aggregate type and holds no aggregate
// state, so one Repository may be used by concurrent callers.
type Repository[A Aggregate] struct {
	factory           func(id string) A
	store             eventstore.EventStore
	snapshotFrequency uint64
	logger            *zap.Logger
}

// RepositoryOption configures a Repository
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	snapshotFrequency uint64
	logger            *zap.Logger
}

// WithSnapshotFrequency enables the snapshot hook every n committed events
func WithSnapshotFrequency(n uint64) RepositoryOption {
	return func(o *repositoryOptions) {
		o.snapshotFrequency = n
	}
}

// WithLogger sets the logger of the repository
func WithLogger(logger *zap.Logger) RepositoryOption {
	return func(o *repositoryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewRepository is a factory function that creates a new Repository object.
// factory returns a fresh aggregate at version 0 with its AggregateRoot initialized.
func NewRepository[A Aggregate](
	factory func(id string) A,
	store eventstore.EventStore,
	opts ...RepositoryOption,
) *Repository[A] {
	o := repositoryOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[A]{
		factory:           factory,
		store:             store,
		snapshotFrequency: o.snapshotFrequency,
		logger:            o.logger,
	}
}

// Load replays the stream of aggregateID into a fresh aggregate.
// An empty stream yields the fresh aggregate; the first apply error aborts the replay.
func (r *Repository[A]) Load(ctx context.Context, aggregateID string) (A, error) {
	var zero A
	if aggregateID == "" {
		return zero, errors.New("aggregate id may not be blank")
	}

	history, err := r.store.LoadEvents(ctx, aggregateID, nil)
	if err != nil {
		return zero, fmt.Errorf("unable to load events of %s: %w", aggregateID, err)
	}

	aggregate := r.factory(aggregateID)
	for _, e := range history {
		if err := aggregate.ApplyEvent(e); err != nil {
			var aggErr *AggregateError
			if errors.As(err, &aggErr) {
				return zero, err
			}
			return zero, &AggregateError{
				Kind:   EventApplicationFailed,
				Reason: fmt.Sprintf("aggregate was unable to handle event %s: %s", e.Name, err),
				Err:    err,
			}
		}
	}
	aggregate.root().committed = uint64(len(history))

	r.logger.Debug("aggregate loaded",
		zap.String("aggregate_id", aggregateID),
		zap.String("aggregate_type", aggregate.AggregateType()),
		zap.Int("events_count", len(history)),
	)
	return aggregate, nil
}

// Get is Load for aggregates that must exist: an empty stream is a NotFound error
func (r *Repository[A]) Get(ctx context.Context, aggregateID string) (A, error) {
	aggregate, err := r.Load(ctx, aggregateID)
	if err != nil {
		return aggregate, err
	}
	if aggregate.root().committed == 0 {
		var zero A
		return zero, &AggregateError{Kind: NotFound, Reason: fmt.Sprintf("unable to find aggregate for id %s", aggregateID)}
	}
	return aggregate, nil
}

// Save appends the uncommitted events of aggregate, expecting the stream to be at the
// version it was loaded at. A concurrent writer makes it fail with a VersionConflict error,
// the caller is expected to load, redo its change and save again.
func (r *Repository[A]) Save(ctx context.Context, aggregate A) error {
	events := aggregate.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	root := aggregate.root()
	expected := root.committed
	if err := r.store.SaveEvents(ctx, aggregate.AggregateID(), events, &expected); err != nil {
		var conflict *eventstore.VersionConflictError
		if errors.As(err, &conflict) {
			return &AggregateError{
				Kind:     VersionConflict,
				Expected: conflict.Expected,
				Actual:   conflict.Actual,
				Err:      err,
			}
		}
		return fmt.Errorf("unable to save events of %s: %w", aggregate.AggregateID(), err)
	}
	aggregate.MarkCommitted()

	r.logger.Debug("aggregate saved",
		zap.String("aggregate_id", aggregate.AggregateID()),
		zap.String("aggregate_type", aggregate.AggregateType()),
		zap.Int("events_count", len(events)),
		zap.Uint64("version", root.committed),
	)

	if snapshotDue(r.snapshotFrequency, root.committed) {
		r.createSnapshot(ctx, aggregate, root.committed)
	}
	return nil
}

// Update loads aggregateID, passes it to fn and saves the result. There is no retry:
// a VersionConflict is returned to the caller like any other error.
func (r *Repository[A]) Update(ctx context.Context, aggregateID string, fn func(A) error) (A, error) {
	var zero A
	aggregate, err := r.Load(ctx, aggregateID)
	if err != nil {
		return zero, err
	}
	if err := fn(aggregate); err != nil {
		return zero, err
	}
	if err := r.Save(ctx, aggregate); err != nil {
		return zero, err
	}
	return aggregate, nil
}
