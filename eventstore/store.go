package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cannahum/eventsourcing-lite/event"
)

var (
	// ErrVersionConflict matches every *VersionConflictError with errors.Is
	ErrVersionConflict = errors.New("version conflict")

	// ErrForeignEvent is returned when a batch contains an event of another aggregate
	ErrForeignEvent = errors.New("event belongs to another aggregate")
)

// EventStore provides an abstraction for the Repository to save data
type EventStore interface {
	// LoadEvents returns the stream of aggregateID in append order.
	// When afterVersion is set, only events with a higher version are returned.
	// An unknown aggregate has an empty stream.
	LoadEvents(ctx context.Context, aggregateID string, afterVersion *uint64) ([]event.DomainEvent, error)

	// SaveEvents appends events atomically: all are stored or none are.
	// When expectedVersion is set and differs from the stored version the call
	// fails with a *VersionConflictError and nothing is appended.
	SaveEvents(ctx context.Context, aggregateID string, events []event.DomainEvent, expectedVersion *uint64) error

	// Version returns the number of events stored for aggregateID
	Version(ctx context.Context, aggregateID string) (uint64, error)
}

// VersionConflictError reports a failed optimistic concurrency check.
type VersionConflictError struct {
	AggregateID string
	Expected    uint64
	Actual      uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on aggregate %s: expected %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrVersionConflict) hold
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// ExpectVersion is a convenience for passing an expected or after version
func ExpectVersion(v uint64) *uint64 {
	return &v
}

func checkBatch(aggregateID string, events []event.DomainEvent) error {
	if aggregateID == "" {
		return errors.New("aggregate id may not be blank")
	}
	for _, e := range events {
		if e.AggregateID != aggregateID {
			return fmt.Errorf("%w: %s is not %s", ErrForeignEvent, e.AggregateID, aggregateID)
		}
	}
	return nil
}

func conflict(aggregateID string, expected *uint64, actual uint64) error {
	var want uint64
	if expected != nil {
		want = *expected
	}
	return &VersionConflictError{AggregateID: aggregateID, Expected: want, Actual: actual}
}

// checkVersion compares expectedVersion with the stored version of a stream.
// Stores use it for empty batches, where there is nothing to append conditionally.
func checkVersion(ctx context.Context, store EventStore, aggregateID string, expectedVersion *uint64) error {
	if expectedVersion == nil {
		return nil
	}
	current, err := store.Version(ctx, aggregateID)
	if err != nil {
		return err
	}
	if current != *expectedVersion {
		return conflict(aggregateID, expectedVersion, current)
	}
	return nil
}

// appendAttempts bounds how often a save without an expected version re-reads the head
// after losing a race against another writer.
const appendAttempts = 5

// appendAt runs write at expectedVersion. Without one, write runs at the current head and
// is repeated at the new head when a concurrent append got there first; only a writer that
// loses appendAttempts races in a row sees the conflict.
func appendAt(
	ctx context.Context,
	store EventStore,
	aggregateID string,
	expectedVersion *uint64,
	write func(base uint64) error,
) error {
	if expectedVersion != nil {
		return write(*expectedVersion)
	}

	var err error
	for range appendAttempts {
		var base uint64
		if base, err = store.Version(ctx, aggregateID); err != nil {
			return err
		}
		if err = write(base); !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return err
}
