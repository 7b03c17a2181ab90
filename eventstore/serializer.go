package eventstore

import (
	"encoding/json"
	"fmt"

	"github.com/cannahum/eventsourcing-lite/event"
)

// Serializer converts between DomainEvents and Records
type Serializer interface {
	// MarshalEvent converts an event stored at version into a Record
	MarshalEvent(version uint64, e event.DomainEvent) (Record, error)

	// UnmarshalEvent converts a Record back into a DomainEvent
	UnmarshalEvent(record Record) (event.DomainEvent, error)
}

type jsonEvent struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// JSONSerializer provides a simple serializer implementation
type JSONSerializer struct {
	eventNames map[string]struct{}
}

// NewJSONSerializer constructs a JSONSerializer. When names are given only those
// events can be unmarshalled; Bind may be called later to add more.
func NewJSONSerializer(names ...string) *JSONSerializer {
	j := &JSONSerializer{eventNames: map[string]struct{}{}}
	j.Bind(names...)
	return j
}

// Bind registers event names with the serializer; may be called more than once
func (j *JSONSerializer) Bind(names ...string) {
	for _, name := range names {
		j.eventNames[name] = struct{}{}
	}
}

// MarshalEvent implements Serializer
func (j *JSONSerializer) MarshalEvent(version uint64, e event.DomainEvent) (Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("unable to encode event %s: %w", e.Name, err)
	}

	recordData, err := json.Marshal(jsonEvent{Type: e.Name, Data: data})
	if err != nil {
		return Record{}, fmt.Errorf("unable to encode event %s: %w", e.Name, err)
	}

	return Record{Version: version, Data: recordData}, nil
}

// UnmarshalEvent implements Serializer
func (j *JSONSerializer) UnmarshalEvent(record Record) (event.DomainEvent, error) {
	wrapper := jsonEvent{}
	if err := json.Unmarshal(record.Data, &wrapper); err != nil {
		return event.DomainEvent{}, fmt.Errorf("unable to unmarshal record %d: %w", record.Version, err)
	}

	if len(j.eventNames) > 0 {
		if _, ok := j.eventNames[wrapper.Type]; !ok {
			return event.DomainEvent{}, fmt.Errorf("unbound event type, %v", wrapper.Type)
		}
	}

	var e event.DomainEvent
	if err := json.Unmarshal(wrapper.Data, &e); err != nil {
		return event.DomainEvent{}, fmt.Errorf("unable to unmarshal event data of %s: %w", wrapper.Type, err)
	}
	return e, nil
}

func marshalAll(s Serializer, base uint64, events []event.DomainEvent) (History, error) {
	history := make(History, 0, len(events))
	for i, e := range events {
		record, err := s.MarshalEvent(base+uint64(i)+1, e)
		if err != nil {
			return nil, err
		}
		history = append(history, record)
	}
	return history, nil
}

func unmarshalAll(s Serializer, history History) ([]event.DomainEvent, error) {
	events := make([]event.DomainEvent, 0, len(history))
	for _, record := range history {
		e, err := s.UnmarshalEvent(record)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
