package eventsourcing

import (
	"github.com/cannahum/eventsourcing-lite/event"
)

// Aggregate stands for event-sourced model.
// Implementations embed AggregateRoot and provide ApplyEvent.
type Aggregate interface {
	AggregateID() string
	AggregateType() string

	// Version counts the events applied so far
	Version() uint64

	// ApplyEvent folds one event into the aggregate state. It must be a pure function of
	// (state, event) and must call IncrementVersion itself.
	ApplyEvent(e event.DomainEvent) error

	// UncommittedEvents returns the events added since the last commit
	UncommittedEvents() []event.DomainEvent

	// AddEvent buffers a new event until the next Save. It does not apply it.
	AddEvent(e event.DomainEvent)

	// MarkCommitted clears the uncommitted events after they have been stored
	MarkCommitted()

	root() *AggregateRoot
}

// AggregateRoot provides the bookkeeping every Aggregate needs.
type AggregateRoot struct {
	id            string
	aggregateType string
	version       uint64
	// committed is the stream version the aggregate was loaded at or last saved to
	committed   uint64
	uncommitted []event.DomainEvent
}

// NewAggregateRoot creates the root of a fresh aggregate at version 0
func NewAggregateRoot(id, aggregateType string) AggregateRoot {
	return AggregateRoot{id: id, aggregateType: aggregateType}
}

// AggregateID implements the Aggregate interface
func (r *AggregateRoot) AggregateID() string {
	return r.id
}

// AggregateType implements the Aggregate interface
func (r *AggregateRoot) AggregateType() string {
	return r.aggregateType
}

// Version implements the Aggregate interface
func (r *AggregateRoot) Version() uint64 {
	return r.version
}

// IncrementVersion is called from ApplyEvent once per applied event
func (r *AggregateRoot) IncrementVersion() {
	r.version++
}

// UncommittedEvents implements the Aggregate interface
func (r *AggregateRoot) UncommittedEvents() []event.DomainEvent {
	out := make([]event.DomainEvent, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// AddEvent implements the Aggregate interface
func (r *AggregateRoot) AddEvent(e event.DomainEvent) {
	r.uncommitted = append(r.uncommitted, e)
}

// MarkCommitted implements the Aggregate interface
func (r *AggregateRoot) MarkCommitted() {
	r.committed += uint64(len(r.uncommitted))
	r.uncommitted = nil
}

// NewEvent creates an event of this aggregate. The event is neither applied nor added.
func (r *AggregateRoot) NewEvent(name string, payload any) (event.DomainEvent, error) {
	e, err := event.New(name, r.id, r.aggregateType, payload)
	if err != nil {
		return event.DomainEvent{}, &AggregateError{Kind: SerializationError, Reason: err.Error(), Err: err}
	}
	return e, nil
}

func (r *AggregateRoot) root() *AggregateRoot {
	return r
}
