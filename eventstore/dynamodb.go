package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/event"
)

// maxTransactItems is the DynamoDB limit on items in one TransactWriteItems call
const maxTransactItems = 100

// DynamoDBAPI is the part of the DynamoDB client the store uses
type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDBStore is an event store implementation using DynamoDB.
// Each event is one item keyed by (aggregate id, version).
type DynamoDBStore struct {
	tableName  string
	hashKey    string
	rangeKey   string
	api        DynamoDBAPI
	serializer Serializer
	logger     *zap.Logger
}

// dynamoItem holds the non-key attributes of an event item
type dynamoItem struct {
	AggregateType string `dynamodbav:"aggregate_type"`
	EventName     string `dynamodbav:"event_name"`
	Data          []byte `dynamodbav:"event_data"`
}

// DynamoDBOption configures a DynamoDBStore
type DynamoDBOption func(*DynamoDBStore)

// WithDynamoDBLogger sets the logger of the store
func WithDynamoDBLogger(logger *zap.Logger) DynamoDBOption {
	return func(s *DynamoDBStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDynamoDBSerializer replaces the default JSONSerializer
func WithDynamoDBSerializer(serializer Serializer) DynamoDBOption {
	return func(s *DynamoDBStore) {
		s.serializer = serializer
	}
}

// GetDynamoDBStore returns a new DB store instance
func GetDynamoDBStore(tableName, partitionKey, rangeKey string, db DynamoDBAPI, opts ...DynamoDBOption) *DynamoDBStore {
	store := &DynamoDBStore{
		tableName:  tableName,
		hashKey:    partitionKey,
		rangeKey:   rangeKey,
		api:        db,
		serializer: NewJSONSerializer(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// LoadEvents implements the EventStore interface and reads the events of one aggregate
func (s *DynamoDBStore) LoadEvents(ctx context.Context, aggregateID string, afterVersion *uint64) ([]event.DomainEvent, error) {
	input := &dynamodb.QueryInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		ExpressionAttributeNames: map[string]string{
			"#key": s.hashKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: aggregateID},
		},
		KeyConditionExpression: aws.String("#key = :key"),
	}
	if afterVersion != nil {
		input.KeyConditionExpression = aws.String("#key = :key AND #range > :after")
		input.ExpressionAttributeNames["#range"] = s.rangeKey
		input.ExpressionAttributeValues[":after"] = &types.AttributeValueMemberN{Value: strconv.FormatUint(*afterVersion, 10)}
	}

	history := History{}
	for {
		out, err := s.api.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		for _, item := range out.Items {
			record, err := s.decodeItem(item)
			if err != nil {
				return nil, err
			}
			history = append(history, record)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.Sort(history)
	return unmarshalAll(s.serializer, history)
}

// SaveEvents implements the EventStore interface. The batch is one transaction: every
// item must not exist yet and, past the first event, the expected head item must exist.
// Items are keyed by version, so a nil expectedVersion still writes at the head it read;
// losing that race is retried at the new head and reported as a conflict only after
// repeated losses.
func (s *DynamoDBStore) SaveEvents(
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
	if len(events)+1 > maxTransactItems {
		return fmt.Errorf("can't save more than %d events at a time", maxTransactItems-1)
	}

	return appendAt(ctx, s, aggregateID, expectedVersion, func(base uint64) error {
		return s.transact(ctx, aggregateID, events, base)
	})
}

// transact writes events after version base in one transaction
func (s *DynamoDBStore) transact(ctx context.Context, aggregateID string, events []event.DomainEvent, base uint64) error {
	history, err := marshalAll(s.serializer, base, events)
	if err != nil {
		return err
	}

	input := &dynamodb.TransactWriteItemsInput{}
	if base > 0 {
		input.TransactItems = append(input.TransactItems, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                aws.String(s.tableName),
				Key:                      s.key(aggregateID, base),
				ConditionExpression:      aws.String("attribute_exists(#range)"),
				ExpressionAttributeNames: map[string]string{"#range": s.rangeKey},
			},
		})
	}

	for i, record := range history {
		item, err := attributevalue.MarshalMap(dynamoItem{
			AggregateType: events[i].AggregateType,
			EventName:     events[i].Name,
			Data:          record.Data,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", events[i].Name, err)
		}
		for k, v := range s.key(aggregateID, record.Version) {
			item[k] = v
		}

		input.TransactItems = append(input.TransactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:                aws.String(s.tableName),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#range)"),
				ExpressionAttributeNames: map[string]string{"#range": s.rangeKey},
			},
		})
	}

	_, err = s.api.TransactWriteItems(ctx, input)
	if err != nil {
		var txnCanceled *types.TransactionCanceledException
		if errors.As(err, &txnCanceled) {
			actual, versionErr := s.Version(ctx, aggregateID)
			if versionErr != nil {
				return fmt.Errorf("transaction canceled, version unavailable: %w", versionErr)
			}
			s.logger.Warn("version conflict",
				zap.String("aggregate_id", aggregateID),
				zap.Uint64("expected_version", base),
				zap.Uint64("current_version", actual),
			)
			return &VersionConflictError{AggregateID: aggregateID, Expected: base, Actual: actual}
		}
		return fmt.Errorf("failed to write events: %w", err)
	}
	return nil
}

// Version implements the EventStore interface by reading the newest item of the stream
func (s *DynamoDBStore) Version(ctx context.Context, aggregateID string) (uint64, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("#key = :key"),
		ExpressionAttributeNames: map[string]string{
			"#key":   s.hashKey,
			"#range": s.rangeKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ProjectionExpression: aws.String("#range"),
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query version: %w", err)
	}
	if len(out.Items) == 0 {
		return 0, nil
	}
	return s.itemVersion(out.Items[0])
}

func (s *DynamoDBStore) key(aggregateID string, version uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.hashKey:  &types.AttributeValueMemberS{Value: aggregateID},
		s.rangeKey: &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
	}
}

func (s *DynamoDBStore) itemVersion(item map[string]types.AttributeValue) (uint64, error) {
	n, ok := item[s.rangeKey].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("item has no numeric %s attribute", s.rangeKey)
	}
	v, err := strconv.ParseUint(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s attribute %q: %w", s.rangeKey, n.Value, err)
	}
	return v, nil
}

func (s *DynamoDBStore) decodeItem(item map[string]types.AttributeValue) (Record, error) {
	version, err := s.itemVersion(item)
	if err != nil {
		return Record{}, err
	}
	var attrs dynamoItem
	if err := attributevalue.UnmarshalMap(item, &attrs); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal event item %d: %w", version, err)
	}
	return Record{Version: version, Data: attrs.Data}, nil
}
