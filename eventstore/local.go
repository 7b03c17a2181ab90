package eventstore

import (
	"context"
	"sync"

	"github.com/cannahum/eventsourcing-lite/event"
)

// memoryEventStore keeps streams in memory. The store lock only guards the
// stream map; each stream has its own lock around check-and-append.
type memoryEventStore struct {
	mux     *sync.Mutex
	streams map[string]*memoryStream
}

type memoryStream struct {
	mu     sync.RWMutex
	events []event.DomainEvent
}

func (m *memoryEventStore) stream(aggregateID string, create bool) *memoryStream {
	m.mux.Lock()
	defer m.mux.Unlock()

	s, ok := m.streams[aggregateID]
	if !ok && create {
		s = &memoryStream{}
		m.streams[aggregateID] = s
	}
	return s
}

func (m *memoryEventStore) SaveEvents(
	_ context.Context,
	aggregateID string,
	events []event.DomainEvent,
	expectedVersion *uint64,
) error {
	if err := checkBatch(aggregateID, events); err != nil {
		return err
	}

	s := m.stream(aggregateID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	current := uint64(len(s.events))
	if expectedVersion != nil && *expectedVersion != current {
		return conflict(aggregateID, expectedVersion, current)
	}

	for _, e := range events {
		e.Payload = append([]byte(nil), e.Payload...)
		s.events = append(s.events, e)
	}
	return nil
}

func (m *memoryEventStore) LoadEvents(
	_ context.Context,
	aggregateID string,
	afterVersion *uint64,
) ([]event.DomainEvent, error) {
	s := m.stream(aggregateID, false)
	if s == nil {
		return []event.DomainEvent{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	from := uint64(0)
	if afterVersion != nil {
		from = *afterVersion
	}
	if from >= uint64(len(s.events)) {
		return []event.DomainEvent{}, nil
	}

	history := make([]event.DomainEvent, len(s.events)-int(from))
	copy(history, s.events[from:])
	return history, nil
}

func (m *memoryEventStore) Version(_ context.Context, aggregateID string) (uint64, error) {
	s := m.stream(aggregateID, false)
	if s == nil {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

// GetLocalStore returns an EventStore in memory - good for tests!
func GetLocalStore() EventStore {
	return &memoryEventStore{
		mux:     &sync.Mutex{},
		streams: map[string]*memoryStream{},
	}
}
