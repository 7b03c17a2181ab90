package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/event"
)

const defaultMongoCollection = "event_streams"

// MongoStore is an event store implementation using MongoDB. Every stream is a
// single document, so an append is one conditional single-document update and
// needs no multi-document transaction.
type MongoStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

type streamDocument struct {
	ID            string          `bson:"_id"`
	AggregateType string          `bson:"aggregate_type"`
	Version       int64           `bson:"version"`
	Events        []eventDocument `bson:"events"`
}

type eventDocument struct {
	Version       int64     `bson:"version"`
	Name          string    `bson:"name"`
	AggregateType string    `bson:"aggregate_type"`
	Payload       []byte    `bson:"payload"`
	EventID       string    `bson:"event_id"`
	OccurredAt    time.Time `bson:"occurred_at"`
	CorrelationID string    `bson:"correlation_id,omitempty"`
	CausationID   string    `bson:"causation_id,omitempty"`
	UserID        string    `bson:"user_id,omitempty"`
}

// MongoOption configures a MongoStore
type MongoOption func(*mongoOptions)

type mongoOptions struct {
	collection string
	logger     *zap.Logger
}

// WithMongoCollection overrides the collection name
func WithMongoCollection(name string) MongoOption {
	return func(o *mongoOptions) {
		o.collection = name
	}
}

// WithMongoLogger sets the logger of the store
func WithMongoLogger(logger *zap.Logger) MongoOption {
	return func(o *mongoOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewMongoStore creates a MongoStore in the given database
func NewMongoStore(db *mongo.Database, opts ...MongoOption) *MongoStore {
	o := mongoOptions{collection: defaultMongoCollection, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &MongoStore{
		collection: db.Collection(o.collection),
		logger:     o.logger,
	}
}

// SaveEvents implements EventStore. The update is conditional on the stream version, so a
// nil expectedVersion still writes at the head it read; losing that race is retried at the
// new head and reported as a conflict only after repeated losses.
func (s *MongoStore) SaveEvents(
	ctx context.Context,
	aggregateID string,
	events []event.DomainEvent,
	expectedVersion *uint64,
) error {
	if err := checkBatch(aggregateID, events); err != nil {
		return err
	}
	if len(events) == 0 {
		return checkVersion(ctx, s, aggregateID, expectedVersion)
	}

	return appendAt(ctx, s, aggregateID, expectedVersion, func(base uint64) error {
		return s.push(ctx, aggregateID, events, base)
	})
}

// push appends events to the stream document if it is still at version base
func (s *MongoStore) push(ctx context.Context, aggregateID string, events []event.DomainEvent, base uint64) error {
	docs := make([]eventDocument, 0, len(events))
	for i, e := range events {
		docs = append(docs, toEventDocument(base+uint64(i)+1, e))
	}

	filter := bson.M{"_id": aggregateID, "version": int64(base)}
	update := bson.M{
		"$push":        bson.M{"events": bson.M{"$each": docs}},
		"$inc":         bson.M{"version": int64(len(docs))},
		"$setOnInsert": bson.M{"aggregate_type": events[0].AggregateType},
	}
	// only a brand new stream may be created by the update
	opts := options.UpdateOne().SetUpsert(base == 0)

	result, err := s.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return s.conflict(ctx, aggregateID, base)
		}
		s.logger.Error("failed to append events",
			zap.String("aggregate_id", aggregateID),
			zap.Int("events_count", len(events)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to append events: %w", err)
	}
	if result.MatchedCount == 0 && result.UpsertedCount == 0 {
		return s.conflict(ctx, aggregateID, base)
	}
	return nil
}

// LoadEvents implements EventStore
func (s *MongoStore) LoadEvents(ctx context.Context, aggregateID string, afterVersion *uint64) ([]event.DomainEvent, error) {
	var doc streamDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": aggregateID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []event.DomainEvent{}, nil
		}
		return nil, fmt.Errorf("failed to find stream: %w", err)
	}

	var after int64
	if afterVersion != nil {
		after = int64(*afterVersion)
	}

	events := make([]event.DomainEvent, 0, len(doc.Events))
	for _, d := range doc.Events {
		if d.Version <= after {
			continue
		}
		e, err := fromEventDocument(aggregateID, d)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// Version implements EventStore
func (s *MongoStore) Version(ctx context.Context, aggregateID string) (uint64, error) {
	var doc streamDocument
	opts := options.FindOne().SetProjection(bson.M{"version": 1})
	err := s.collection.FindOne(ctx, bson.M{"_id": aggregateID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return uint64(doc.Version), nil
}

func (s *MongoStore) conflict(ctx context.Context, aggregateID string, expected uint64) error {
	actual, err := s.Version(ctx, aggregateID)
	if err != nil {
		return fmt.Errorf("append rejected, version unavailable: %w", err)
	}
	s.logger.Warn("version conflict",
		zap.String("aggregate_id", aggregateID),
		zap.Uint64("expected_version", expected),
		zap.Uint64("current_version", actual),
	)
	return &VersionConflictError{AggregateID: aggregateID, Expected: expected, Actual: actual}
}

func toEventDocument(version uint64, e event.DomainEvent) eventDocument {
	return eventDocument{
		Version:       int64(version),
		Name:          e.Name,
		AggregateType: e.AggregateType,
		Payload:       e.Payload,
		EventID:       e.Metadata.ID.String(),
		OccurredAt:    e.Metadata.Timestamp,
		CorrelationID: e.Metadata.CorrelationID,
		CausationID:   e.Metadata.CausationID,
		UserID:        e.Metadata.UserID,
	}
}

func fromEventDocument(aggregateID string, d eventDocument) (event.DomainEvent, error) {
	id, err := uuid.FromString(d.EventID)
	if err != nil {
		return event.DomainEvent{}, fmt.Errorf("invalid event id %q at version %d: %w", d.EventID, d.Version, err)
	}
	return event.DomainEvent{
		Name:          d.Name,
		AggregateID:   aggregateID,
		AggregateType: d.AggregateType,
		Payload:       d.Payload,
		Metadata: event.Metadata{
			ID:            id,
			Timestamp:     d.OccurredAt,
			CorrelationID: d.CorrelationID,
			CausationID:   d.CausationID,
			UserID:        d.UserID,
		},
	}, nil
}
