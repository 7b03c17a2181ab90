// Package event defines the domain event carried between aggregates, event stores and projections.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Metadata describes an event occurrence. It never influences how the event is applied.
type Metadata struct {
	ID            uuid.UUID `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
}

// DomainEvent is an immutable fact about one aggregate.
// Order within an aggregate's stream is significant.
type DomainEvent struct {
	Name          string          `json:"name"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`
}

// New creates a DomainEvent with a fresh id and timestamp. payload is JSON encoded;
// a json.RawMessage or []byte payload is used as is.
func New(name, aggregateID, aggregateType string, payload any) (DomainEvent, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("unable to encode payload of %s: %w", name, err)
	}

	return DomainEvent{
		Name:          name,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       data,
		Metadata: Metadata{
			ID:        uuid.NewV4(),
			Timestamp: time.Now().UTC(),
		},
	}, nil
}

// WithCorrelation returns a copy of e carrying the given correlation and causation ids
func (e DomainEvent) WithCorrelation(correlationID, causationID string) DomainEvent {
	e.Metadata.CorrelationID = correlationID
	e.Metadata.CausationID = causationID
	return e
}

// WithUser returns a copy of e attributed to userID
func (e DomainEvent) WithUser(userID string) DomainEvent {
	e.Metadata.UserID = userID
	return e
}

// DecodePayload unmarshals the event payload into v
func (e DomainEvent) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("unable to decode payload of %s: %w", e.Name, err)
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid JSON payload")
		}
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid JSON payload")
		}
		return append(json.RawMessage(nil), p...), nil
	default:
		return json.Marshal(payload)
	}
}

// Bus publishes committed events to interested parties.
type Bus interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// Handler consumes events delivered by a Bus.
type Handler interface {
	Handle(ctx context.Context, e DomainEvent) error
}

// HandlerFunc adapts a function to a Handler
type HandlerFunc func(ctx context.Context, e DomainEvent) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, e DomainEvent) error {
	return f(ctx, e)
}
